// Package declaration decodes typed trace fields from a bit-addressed buffer.
//
// A Declaration describes the layout of a field (its size, alignment, byte order and
// nested fields). Decoding a declaration at the reader's current bit position yields
// a Definition holding the value. Compound types resolve names (variant tags and
// sequence lengths) through a Scope, which is the chain of enclosing struct
// definitions followed by any outer scope supplied by the caller:
//
//	def, err := ctx.Decode(r, nil)
//	size, ok := def.(*declaration.StructDefinition).Uint("packet_size")
//
// Definitions own their data: byte and string values are copied out of the buffer,
// so a definition stays valid after the underlying mapping is released.
package declaration

import (
	"strings"

	"github.com/arloliu/ctftrace/bitio"
)

// Declaration is the layout of one field.
type Declaration interface {
	// Alignment returns the field alignment in bits.
	Alignment() int64
	// Decode reads one value at the reader's current position.
	Decode(r *bitio.Reader, scope Scope) (Definition, error)
}

// Definition is a decoded value.
type Definition interface {
	Declaration() Declaration
}

// Scope resolves a field name to an already decoded definition.
type Scope interface {
	Lookup(name string) Definition
}

// ScopeChain looks a name up in each scope in order and returns the first match.
type ScopeChain []Scope

// Lookup implements Scope.
func (c ScopeChain) Lookup(name string) Definition {
	for _, s := range c {
		if s == nil {
			continue
		}
		if def := s.Lookup(name); def != nil {
			return def
		}
	}

	return nil
}

// lookupPath resolves a dotted path ("v.timestamp") starting at scope.
func lookupPath(scope Scope, path string) Definition {
	if scope == nil || path == "" {
		return nil
	}
	head, rest, dotted := strings.Cut(path, ".")
	def := scope.Lookup(head)
	if !dotted || def == nil {
		return def
	}

	for _, part := range strings.Split(rest, ".") {
		switch d := def.(type) {
		case *StructDefinition:
			def = d.Field(part)
		case *VariantDefinition:
			sd, ok := d.Current.(*StructDefinition)
			if !ok {
				return nil
			}
			def = sd.Field(part)
		default:
			return nil
		}
		if def == nil {
			return nil
		}
	}

	return def
}

// IntegerValue returns the numeric value of an integer or enum definition.
func IntegerValue(def Definition) (uint64, bool) {
	switch d := def.(type) {
	case *IntegerDefinition:
		return d.Value, true
	case *EnumDefinition:
		return d.Integer.Value, true
	default:
		return 0, false
	}
}
