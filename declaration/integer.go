package declaration

import (
	"fmt"

	"github.com/arloliu/ctftrace/bitio"
	"github.com/arloliu/ctftrace/endian"
	"github.com/arloliu/ctftrace/errs"
)

// IntegerDeclaration describes a fixed-width integer of 1 to 64 bits.
type IntegerDeclaration struct {
	// Length is the width in bits.
	Length int
	// Signed integers are sign extended from Length bits.
	Signed bool
	// ByteOrder overrides the trace byte order; nil uses the reader default.
	ByteOrder endian.EndianEngine
	// Align is the alignment in bits. Zero selects 8 for whole-byte widths and 1 otherwise.
	Align int64
	// Base is the preferred display base (2, 8, 10 or 16). Zero means 10.
	Base int
	// Clock names the clock this integer is mapped to, if any.
	Clock string
}

// NewUnsigned returns an unsigned integer declaration with natural alignment.
func NewUnsigned(length int) *IntegerDeclaration {
	return &IntegerDeclaration{Length: length}
}

// NewSigned returns a signed integer declaration with natural alignment.
func NewSigned(length int) *IntegerDeclaration {
	return &IntegerDeclaration{Length: length, Signed: true}
}

// Alignment implements Declaration.
func (d *IntegerDeclaration) Alignment() int64 {
	if d.Align > 0 {
		return d.Align
	}
	if d.Length%8 == 0 {
		return 8
	}

	return 1
}

// Validate checks the declared width.
func (d *IntegerDeclaration) Validate() error {
	if d.Length <= 0 || d.Length > 64 {
		return fmt.Errorf("%w: integer length %d outside [1, 64]", errs.ErrInvalidDeclaration, d.Length)
	}

	return nil
}

// Decode implements Declaration.
func (d *IntegerDeclaration) Decode(r *bitio.Reader, _ Scope) (Definition, error) {
	if err := r.Align(d.Alignment()); err != nil {
		return nil, err
	}
	v, err := r.ReadBits(d.Length, d.ByteOrder)
	if err != nil {
		return nil, err
	}

	return &IntegerDefinition{decl: d, Value: v}, nil
}

// IntegerDefinition is a decoded integer. Value holds the raw bits; use Int for
// the sign-extended value of signed declarations.
type IntegerDefinition struct {
	decl  *IntegerDeclaration
	Value uint64
}

// Declaration implements Definition.
func (d *IntegerDefinition) Declaration() Declaration { return d.decl }

// Length returns the declared width in bits.
func (d *IntegerDefinition) Length() int { return d.decl.Length }

// Int returns the value as a signed integer, sign extending signed declarations.
func (d *IntegerDefinition) Int() int64 {
	if !d.decl.Signed || d.decl.Length == 64 {
		return int64(d.Value) //nolint: gosec
	}
	shift := 64 - uint(d.decl.Length)

	return int64(d.Value<<shift) >> shift //nolint: gosec
}

func (d *IntegerDefinition) String() string {
	if d.decl.Signed {
		return fmt.Sprintf("%d", d.Int())
	}
	switch d.decl.Base {
	case 16:
		return fmt.Sprintf("0x%x", d.Value)
	case 8:
		return fmt.Sprintf("0%o", d.Value)
	case 2:
		return fmt.Sprintf("0b%b", d.Value)
	default:
		return fmt.Sprintf("%d", d.Value)
	}
}
