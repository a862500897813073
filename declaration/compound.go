package declaration

import (
	"fmt"
	"strings"

	"github.com/arloliu/ctftrace/bitio"
	"github.com/arloliu/ctftrace/errs"
)

// Field is a named member of a struct or variant.
type Field struct {
	Name        string
	Declaration Declaration
}

// StructDeclaration is an ordered list of named fields.
type StructDeclaration struct {
	Fields []Field
	// MinAlign raises the struct alignment above that of its fields.
	MinAlign int64
}

// NewStruct returns a struct declaration over the given fields.
func NewStruct(fields ...Field) *StructDeclaration {
	return &StructDeclaration{Fields: fields}
}

// Alignment implements Declaration. It is the largest alignment among MinAlign and the fields.
func (d *StructDeclaration) Alignment() int64 {
	align := max(d.MinAlign, 1)
	for _, f := range d.Fields {
		align = max(align, f.Declaration.Alignment())
	}

	return align
}

// HasField reports whether the struct declares a field with the given name.
func (d *StructDeclaration) HasField(name string) bool {
	for _, f := range d.Fields {
		if f.Name == name {
			return true
		}
	}

	return false
}

// FieldDeclaration returns the declaration of the named field, or nil.
func (d *StructDeclaration) FieldDeclaration(name string) Declaration {
	for _, f := range d.Fields {
		if f.Name == name {
			return f.Declaration
		}
	}

	return nil
}

// Decode implements Declaration. Fields decoded earlier are visible to later
// fields through the returned definition, which chains to scope.
func (d *StructDeclaration) Decode(r *bitio.Reader, scope Scope) (Definition, error) {
	if err := r.Align(d.Alignment()); err != nil {
		return nil, err
	}

	def := &StructDefinition{
		decl:   d,
		parent: scope,
		fields: make([]Definition, 0, len(d.Fields)),
	}
	for _, f := range d.Fields {
		fd, err := f.Declaration.Decode(r, def)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		def.fields = append(def.fields, fd)
	}

	return def, nil
}

// StructDefinition is a decoded struct. It is also a Scope over its own fields
// followed by the scope it was decoded in.
type StructDefinition struct {
	decl   *StructDeclaration
	parent Scope
	fields []Definition
}

// Declaration implements Definition.
func (d *StructDefinition) Declaration() Declaration { return d.decl }

// Field returns the named field of this struct only, or nil.
func (d *StructDefinition) Field(name string) Definition {
	for i, def := range d.fields {
		if d.decl.Fields[i].Name == name {
			return def
		}
	}

	return nil
}

// Lookup implements Scope. Dotted paths descend into nested structs and variants.
func (d *StructDefinition) Lookup(name string) Definition {
	if head, _, dotted := strings.Cut(name, "."); dotted {
		if d.Field(head) != nil {
			return lookupPath(structScope{d}, name)
		}
	} else if def := d.Field(name); def != nil {
		return def
	}
	if d.parent == nil {
		return nil
	}

	return d.parent.Lookup(name)
}

// Names returns the names of the decoded fields in declaration order.
func (d *StructDefinition) Names() []string {
	names := make([]string, len(d.fields))
	for i := range d.fields {
		names[i] = d.decl.Fields[i].Name
	}

	return names
}

// Uint returns the value of the named integer or enum field.
func (d *StructDefinition) Uint(name string) (uint64, bool) {
	return IntegerValue(d.Field(name))
}

// Int returns the sign-extended value of the named integer or enum field.
func (d *StructDefinition) Int(name string) (int64, bool) {
	switch f := d.Field(name).(type) {
	case *IntegerDefinition:
		return f.Int(), true
	case *EnumDefinition:
		return f.Integer.Int(), true
	default:
		return 0, false
	}
}

// String returns the value of the named string field.
func (d *StructDefinition) String(name string) (string, bool) {
	f, ok := d.Field(name).(*StringDefinition)
	if !ok {
		return "", false
	}

	return f.Value, true
}

// Format renders the struct as "{ a = 1, b = x }".
func (d *StructDefinition) Format() string {
	var sb strings.Builder
	sb.WriteString("{ ")
	for i, def := range d.fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(d.decl.Fields[i].Name)
		sb.WriteString(" = ")
		if nested, ok := def.(*StructDefinition); ok {
			sb.WriteString(nested.Format())
		} else {
			sb.WriteString(FormatDefinition(def))
		}
	}
	sb.WriteString(" }")

	return sb.String()
}

// structScope restricts lookups to the struct's own fields.
type structScope struct{ def *StructDefinition }

func (s structScope) Lookup(name string) Definition { return s.def.Field(name) }

// VariantDeclaration selects one of its options by the label of an enum tag
// decoded earlier in the enclosing scope.
type VariantDeclaration struct {
	Tag     string
	Options []Field
}

// Alignment implements Declaration. The chosen option aligns itself.
func (d *VariantDeclaration) Alignment() int64 { return 1 }

// Option returns the declaration of the named option, or nil.
func (d *VariantDeclaration) Option(name string) Declaration {
	for _, o := range d.Options {
		if o.Name == name {
			return o.Declaration
		}
	}

	return nil
}

// Decode implements Declaration.
func (d *VariantDeclaration) Decode(r *bitio.Reader, scope Scope) (Definition, error) {
	tag, ok := lookupPath(scope, d.Tag).(*EnumDefinition)
	if !ok {
		return nil, fmt.Errorf("%w: tag %q is not a decoded enum", errs.ErrVariantTag, d.Tag)
	}
	option := d.Option(tag.Label)
	if option == nil {
		return nil, fmt.Errorf("%w: tag %q value %d selects no option", errs.ErrVariantTag, d.Tag, tag.Integer.Value)
	}
	current, err := option.Decode(r, scope)
	if err != nil {
		return nil, fmt.Errorf("option %q: %w", tag.Label, err)
	}

	return &VariantDefinition{decl: d, Tag: tag.Label, Current: current}, nil
}

// VariantDefinition is a decoded variant holding the selected option.
type VariantDefinition struct {
	decl    *VariantDeclaration
	Tag     string
	Current Definition
}

// Declaration implements Definition.
func (d *VariantDefinition) Declaration() Declaration { return d.decl }

func (d *VariantDefinition) String() string {
	if sd, ok := d.Current.(*StructDefinition); ok {
		return d.Tag + " " + sd.Format()
	}

	return d.Tag + " " + FormatDefinition(d.Current)
}

// ArrayDeclaration is a fixed number of elements.
type ArrayDeclaration struct {
	Element Declaration
	Length  int
}

// Alignment implements Declaration.
func (d *ArrayDeclaration) Alignment() int64 { return d.Element.Alignment() }

// Decode implements Declaration.
func (d *ArrayDeclaration) Decode(r *bitio.Reader, scope Scope) (Definition, error) {
	elems, err := decodeElements(r, scope, d.Element, d.Length)
	if err != nil {
		return nil, err
	}

	return &ArrayDefinition{decl: d, Elements: elems}, nil
}

// SequenceDeclaration is an array whose length is an integer field decoded earlier.
type SequenceDeclaration struct {
	Element     Declaration
	LengthField string
}

// Alignment implements Declaration.
func (d *SequenceDeclaration) Alignment() int64 { return d.Element.Alignment() }

// Decode implements Declaration.
func (d *SequenceDeclaration) Decode(r *bitio.Reader, scope Scope) (Definition, error) {
	n, ok := IntegerValue(lookupPath(scope, d.LengthField))
	if !ok {
		return nil, fmt.Errorf("%w: sequence length %q is not a decoded integer", errs.ErrInvalidDeclaration, d.LengthField)
	}
	if n > uint64(r.Remaining()) {
		return nil, fmt.Errorf("%w: sequence of %d elements exceeds %d remaining bits", errs.ErrTruncated, n, r.Remaining())
	}
	elems, err := decodeElements(r, scope, d.Element, int(n)) //nolint: gosec
	if err != nil {
		return nil, err
	}

	return &ArrayDefinition{decl: d, Elements: elems}, nil
}

func decodeElements(r *bitio.Reader, scope Scope, elem Declaration, n int) ([]Definition, error) {
	if err := r.Align(elem.Alignment()); err != nil {
		return nil, err
	}
	elems := make([]Definition, 0, n)
	for i := range n {
		def, err := elem.Decode(r, scope)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		elems = append(elems, def)
	}

	return elems, nil
}

// ArrayDefinition is a decoded array or sequence.
type ArrayDefinition struct {
	decl     Declaration
	Elements []Definition
}

// Declaration implements Definition.
func (d *ArrayDefinition) Declaration() Declaration { return d.decl }

// Bytes returns the elements as bytes when every element is an 8-bit integer.
func (d *ArrayDefinition) Bytes() ([]byte, bool) {
	out := make([]byte, len(d.Elements))
	for i, e := range d.Elements {
		integer, ok := e.(*IntegerDefinition)
		if !ok || integer.Length() != 8 {
			return nil, false
		}
		out[i] = byte(integer.Value)
	}

	return out, true
}
