package declaration

import (
	"fmt"
	"math"
	"strings"

	"github.com/arloliu/ctftrace/bitio"
	"github.com/arloliu/ctftrace/endian"
	"github.com/arloliu/ctftrace/errs"
)

// FloatDeclaration describes an IEEE 754 binary32 or binary64 value.
// MantissaDigits includes the implicit leading bit (24 for binary32, 53 for binary64).
type FloatDeclaration struct {
	ExponentDigits int
	MantissaDigits int
	ByteOrder      endian.EndianEngine
	Align          int64
}

// Alignment implements Declaration.
func (d *FloatDeclaration) Alignment() int64 {
	if d.Align > 0 {
		return d.Align
	}

	return 8
}

// Decode implements Declaration.
func (d *FloatDeclaration) Decode(r *bitio.Reader, _ Scope) (Definition, error) {
	if err := r.Align(d.Alignment()); err != nil {
		return nil, err
	}

	switch d.ExponentDigits + d.MantissaDigits {
	case 32:
		v, err := r.ReadBits(32, d.ByteOrder)
		if err != nil {
			return nil, err
		}

		return &FloatDefinition{decl: d, Value: float64(math.Float32frombits(uint32(v)))}, nil
	case 64:
		v, err := r.ReadBits(64, d.ByteOrder)
		if err != nil {
			return nil, err
		}

		return &FloatDefinition{decl: d, Value: math.Float64frombits(v)}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported float layout exp=%d mant=%d",
			errs.ErrInvalidDeclaration, d.ExponentDigits, d.MantissaDigits)
	}
}

// FloatDefinition is a decoded floating point value.
type FloatDefinition struct {
	decl  *FloatDeclaration
	Value float64
}

// Declaration implements Definition.
func (d *FloatDefinition) Declaration() Declaration { return d.decl }

// StringDeclaration describes a NUL-terminated, byte-aligned string.
type StringDeclaration struct{}

// Alignment implements Declaration.
func (d *StringDeclaration) Alignment() int64 { return 8 }

// Decode implements Declaration.
func (d *StringDeclaration) Decode(r *bitio.Reader, _ Scope) (Definition, error) {
	if err := r.Align(8); err != nil {
		return nil, err
	}
	s, err := r.ReadCString()
	if err != nil {
		return nil, err
	}

	return &StringDefinition{decl: d, Value: s}, nil
}

// StringDefinition is a decoded string.
type StringDefinition struct {
	decl  *StringDeclaration
	Value string
}

// Declaration implements Definition.
func (d *StringDefinition) Declaration() Declaration { return d.decl }

func (d *StringDefinition) String() string { return d.Value }

// EnumMapping labels the inclusive value range [Low, High].
type EnumMapping struct {
	Label string
	Low   int64
	High  int64
}

// EnumDeclaration is an integer container whose values map to labels.
type EnumDeclaration struct {
	Container *IntegerDeclaration
	Mappings  []EnumMapping
}

// Alignment implements Declaration.
func (d *EnumDeclaration) Alignment() int64 { return d.Container.Alignment() }

// Label returns the label of the first mapping containing v.
func (d *EnumDeclaration) Label(v int64) (string, bool) {
	for _, m := range d.Mappings {
		if v >= m.Low && v <= m.High {
			return m.Label, true
		}
	}

	return "", false
}

// Decode implements Declaration.
func (d *EnumDeclaration) Decode(r *bitio.Reader, scope Scope) (Definition, error) {
	def, err := d.Container.Decode(r, scope)
	if err != nil {
		return nil, err
	}
	integer := def.(*IntegerDefinition)
	label, _ := d.Label(integer.Int())

	return &EnumDefinition{decl: d, Integer: integer, Label: label}, nil
}

// EnumDefinition is a decoded enum. Label is empty when no mapping matches.
type EnumDefinition struct {
	decl    *EnumDeclaration
	Integer *IntegerDefinition
	Label   string
}

// Declaration implements Definition.
func (d *EnumDefinition) Declaration() Declaration { return d.decl }

func (d *EnumDefinition) String() string {
	if d.Label == "" {
		return d.Integer.String()
	}

	return fmt.Sprintf("%s (%s)", d.Label, d.Integer.String())
}

// FormatDefinition renders a definition for display.
func FormatDefinition(def Definition) string {
	switch d := def.(type) {
	case nil:
		return "<none>"
	case *StructDefinition:
		return d.Format()
	case fmt.Stringer:
		return d.String()
	case *FloatDefinition:
		return fmt.Sprintf("%g", d.Value)
	case *ArrayDefinition:
		parts := make([]string, len(d.Elements))
		for i, e := range d.Elements {
			parts[i] = FormatDefinition(e)
		}

		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", def)
	}
}
