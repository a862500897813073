package tracetest

import (
	"fmt"
	"math"

	"github.com/arloliu/ctftrace/declaration"
)

// Header is the value of a compact or large unified event header.
type Header struct {
	ID        uint64
	Timestamp uint64
	Extended  bool
}

// Variant is the value of a variant field: the option to encode and its value.
type Variant struct {
	Option string
	Value  any
}

// Encode writes value using the layout of decl. Structs take map[string]any (missing
// fields are zero), arrays and sequences take []any or []byte, integers and enums any
// Go integer, floats float64 and strings string.
func Encode(w *BitWriter, decl declaration.Declaration, value any) error {
	switch d := decl.(type) {
	case *declaration.IntegerDeclaration:
		w.Align(d.Alignment())
		v, err := toUint64(value)
		if err != nil {
			return err
		}
		w.WriteBits(v, d.Length, d.ByteOrder)
	case *declaration.EnumDeclaration:
		return Encode(w, d.Container, value)
	case *declaration.FloatDeclaration:
		w.Align(d.Alignment())
		f, _ := value.(float64)
		if d.ExponentDigits+d.MantissaDigits == 32 {
			w.WriteBits(uint64(math.Float32bits(float32(f))), 32, d.ByteOrder)
		} else {
			w.WriteBits(math.Float64bits(f), 64, d.ByteOrder)
		}
	case *declaration.StringDeclaration:
		s, _ := value.(string)
		w.WriteBytes(append([]byte(s), 0))
	case *declaration.StructDeclaration:
		w.Align(d.Alignment())
		fields, _ := value.(map[string]any)
		for _, f := range d.Fields {
			if err := Encode(w, f.Declaration, fields[f.Name]); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
	case *declaration.VariantDeclaration:
		v, ok := value.(Variant)
		if !ok {
			return fmt.Errorf("variant needs a tracetest.Variant, got %T", value)
		}
		option := d.Option(v.Option)
		if option == nil {
			return fmt.Errorf("variant has no option %q", v.Option)
		}

		return Encode(w, option, v.Value)
	case *declaration.ArrayDeclaration:
		elems := toSlice(value)
		w.Align(d.Element.Alignment())
		for i := range d.Length {
			var elem any
			if i < len(elems) {
				elem = elems[i]
			}
			if err := Encode(w, d.Element, elem); err != nil {
				return err
			}
		}
	case *declaration.SequenceDeclaration:
		w.Align(d.Element.Alignment())
		for _, elem := range toSlice(value) {
			if err := Encode(w, d.Element, elem); err != nil {
				return err
			}
		}
	case *declaration.EventHeaderCompactDeclaration:
		h, _ := value.(Header)
		w.Align(8)
		if h.Extended {
			w.WriteBits(31, 5, nil)
			writeExtended(w, h)
		} else {
			w.WriteBits(h.ID, 5, nil)
			w.WriteBits(h.Timestamp, 27, nil)
		}
	case *declaration.EventHeaderLargeDeclaration:
		h, _ := value.(Header)
		w.Align(8)
		if h.Extended {
			w.WriteBits(math.MaxUint16, 16, nil)
			writeExtended(w, h)
		} else {
			w.WriteBits(h.ID, 16, nil)
			w.WriteBits(h.Timestamp, 32, nil)
		}
	default:
		return fmt.Errorf("cannot encode %T", decl)
	}

	return nil
}

func writeExtended(w *BitWriter, h Header) {
	w.Align(8)
	w.WriteBits(h.ID, 32, nil)
	w.Align(8)
	w.WriteBits(h.Timestamp, 64, nil)
}

func toUint64(value any) (uint64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case int:
		return uint64(v), nil //nolint: gosec
	case int8:
		return uint64(v), nil //nolint: gosec
	case int16:
		return uint64(v), nil //nolint: gosec
	case int32:
		return uint64(v), nil //nolint: gosec
	case int64:
		return uint64(v), nil //nolint: gosec
	case uint:
		return uint64(v), nil
	case uint8:
		return uint64(v), nil
	case uint16:
		return uint64(v), nil
	case uint32:
		return uint64(v), nil
	case uint64:
		return v, nil
	default:
		return 0, fmt.Errorf("cannot encode %T as an integer", value)
	}
}

func toSlice(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	case []byte:
		out := make([]any, len(v))
		for i, b := range v {
			out[i] = b
		}

		return out
	default:
		return nil
	}
}
