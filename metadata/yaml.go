package metadata

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/arloliu/ctftrace/declaration"
	"github.com/arloliu/ctftrace/endian"
	"github.com/arloliu/ctftrace/errs"
	"github.com/arloliu/ctftrace/internal/hash"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// FileName is the name of the metadata document inside a trace directory.
const FileName = "metadata.yaml"

type rawTrace struct {
	Major        int               `yaml:"major"`
	Minor        int               `yaml:"minor"`
	UUID         string            `yaml:"uuid"`
	ByteOrder    string            `yaml:"byte_order"`
	PacketHeader []rawType         `yaml:"packet_header"`
	Clocks       []rawClock        `yaml:"clocks"`
	Env          map[string]string `yaml:"env"`
	Streams      []rawStream       `yaml:"streams"`
}

type rawClock struct {
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	Freq          uint64 `yaml:"freq"`
	Offset        int64  `yaml:"offset"`
	OffsetSeconds int64  `yaml:"offset_s"`
	Precision     uint64 `yaml:"precision"`
	Absolute      bool   `yaml:"absolute"`
}

type rawStream struct {
	ID            uint64     `yaml:"id"`
	PacketContext []rawType  `yaml:"packet_context"`
	EventHeader   yaml.Node  `yaml:"event_header"`
	EventContext  []rawType  `yaml:"event_context"`
	Events        []rawEvent `yaml:"events"`
}

type rawEvent struct {
	ID       uint64    `yaml:"id"`
	Name     string    `yaml:"name"`
	LogLevel int       `yaml:"loglevel"`
	Context  []rawType `yaml:"context"`
	Fields   []rawType `yaml:"fields"`
}

type rawMapping struct {
	Label string  `yaml:"label"`
	Value *int64  `yaml:"value"`
	Range []int64 `yaml:"range"`
}

type rawType struct {
	Name        string       `yaml:"name"`
	Type        string       `yaml:"type"`
	Size        int          `yaml:"size"`
	Signed      bool         `yaml:"signed"`
	Align       int64        `yaml:"align"`
	ByteOrder   string       `yaml:"byte_order"`
	Base        int          `yaml:"base"`
	Clock       string       `yaml:"clock"`
	ExpDig      int          `yaml:"exp_dig"`
	MantDig     int          `yaml:"mant_dig"`
	Container   *rawType     `yaml:"container"`
	Mappings    []rawMapping `yaml:"mappings"`
	Fields      []rawType    `yaml:"fields"`
	Tag         string       `yaml:"tag"`
	Options     []rawType    `yaml:"options"`
	Element     *rawType     `yaml:"element"`
	Length      int          `yaml:"length"`
	LengthField string       `yaml:"length_field"`
}

// UnmarshalYAML accepts either a full type mapping or a scalar shorthand such as "uint32".
func (t *rawType) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		t.Type = value.Value
		return nil
	}

	type plain rawType

	return value.Decode((*plain)(t))
}

// Load reads and parses the metadata document at path.
func Load(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	tr, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return tr, nil
}

// Parse builds a Trace from a YAML metadata document.
//
// The document declares the trace byte order and UUID, the optional packet header,
// clocks, environment and streams. Types are written either as a shorthand scalar
// ("uint8", "int32", "uint64", "string", "float", "double") or as a mapping:
//
//	byte_order: le
//	uuid: 2a6422d0-6cee-11e0-8c08-cb07d7b3a564
//	packet_header:
//	  - {name: magic, type: uint32}
//	  - {name: uuid, type: array, length: 16, element: uint8}
//	  - {name: stream_id, type: uint32}
//	streams:
//	  - id: 0
//	    packet_context:
//	      - {name: timestamp_begin, type: uint64, clock: monotonic}
//	    event_header: compact        # compact, large, or a field list
//	    events:
//	      - {id: 0, name: sched_switch, fields: [{name: prev_tid, type: int32}]}
//
// Mapping types are integer, float, string, enum (container, mappings), struct
// (fields), variant (tag, options), array (element, length) and sequence (element,
// length_field).
//
// Returns errs.ErrInvalidMetadata (wrapped with the offending location) for malformed documents.
func Parse(data []byte) (*Trace, error) {
	var raw rawTrace
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrInvalidMetadata, err)
	}

	b := &builder{}
	tr, err := b.trace(&raw)
	if err != nil {
		return nil, err
	}
	tr.digest = hash.Digest(data)

	return tr, nil
}

type builder struct {
	clocks map[string]bool
}

func (b *builder) trace(raw *rawTrace) (*Trace, error) {
	tr := &Trace{
		Major:   raw.Major,
		Minor:   raw.Minor,
		Env:     raw.Env,
		Streams: make(map[uint64]*Stream, len(raw.Streams)),
	}

	order := raw.ByteOrder
	if order == "" {
		order = "le"
	}
	engine, err := endian.Parse(order)
	if err != nil {
		return nil, err
	}
	tr.ByteOrder = engine

	if raw.UUID != "" {
		id, err := uuid.Parse(raw.UUID)
		if err != nil {
			return nil, fmt.Errorf("%w: uuid: %w", errs.ErrInvalidMetadata, err)
		}
		tr.UUID = id
	}

	b.clocks = make(map[string]bool, len(raw.Clocks))
	for _, rc := range raw.Clocks {
		if rc.Name == "" || b.clocks[rc.Name] {
			return nil, fmt.Errorf("%w: clock name %q is empty or duplicated", errs.ErrInvalidMetadata, rc.Name)
		}
		b.clocks[rc.Name] = true
		freq := rc.Freq
		if freq == 0 {
			freq = nanosPerSecond
		}
		tr.Clocks = append(tr.Clocks, &Clock{
			Name:          rc.Name,
			Description:   rc.Description,
			Frequency:     freq,
			OffsetSeconds: rc.OffsetSeconds,
			Offset:        rc.Offset,
			Precision:     rc.Precision,
			Absolute:      rc.Absolute,
		})
	}

	if tr.PacketHeader, err = b.structure("packet_header", raw.PacketHeader); err != nil {
		return nil, err
	}
	if err := checkPacketHeader(tr.PacketHeader); err != nil {
		return nil, err
	}

	for i := range raw.Streams {
		st, err := b.stream(&raw.Streams[i])
		if err != nil {
			return nil, err
		}
		if _, dup := tr.Streams[st.ID]; dup {
			return nil, fmt.Errorf("%w: stream %d declared twice", errs.ErrInvalidMetadata, st.ID)
		}
		tr.Streams[st.ID] = st
	}
	if len(tr.Streams) == 0 {
		return nil, fmt.Errorf("%w: no streams declared", errs.ErrInvalidMetadata)
	}

	return tr, nil
}

func checkPacketHeader(decl *declaration.StructDeclaration) error {
	if decl == nil {
		return nil
	}
	if magic := decl.FieldDeclaration(FieldMagic); magic != nil {
		integer, ok := magic.(*declaration.IntegerDeclaration)
		if !ok || integer.Length != 32 {
			return fmt.Errorf("%w: packet_header.magic must be a 32-bit integer", errs.ErrInvalidMetadata)
		}
	}
	if id := decl.FieldDeclaration(FieldUUID); id != nil {
		arr, ok := id.(*declaration.ArrayDeclaration)
		if !ok || arr.Length != 16 {
			return fmt.Errorf("%w: packet_header.uuid must be an array of 16 bytes", errs.ErrInvalidMetadata)
		}
	}

	return nil
}

func (b *builder) stream(raw *rawStream) (*Stream, error) {
	where := fmt.Sprintf("stream %d", raw.ID)
	st := &Stream{
		ID:     raw.ID,
		Events: make(map[uint64]*EventDeclaration, len(raw.Events)),
	}

	var err error
	if st.PacketContext, err = b.structure(where+".packet_context", raw.PacketContext); err != nil {
		return nil, err
	}
	if st.EventContext, err = b.structure(where+".event_context", raw.EventContext); err != nil {
		return nil, err
	}
	if st.EventHeader, err = b.eventHeader(where, &raw.EventHeader); err != nil {
		return nil, err
	}

	for i := range raw.Events {
		re := &raw.Events[i]
		if re.ID == LostEventID {
			return nil, fmt.Errorf("%w: %s: event id %d is reserved", errs.ErrInvalidMetadata, where, re.ID)
		}
		if _, dup := st.Events[re.ID]; dup {
			return nil, fmt.Errorf("%w: %s: event %d declared twice", errs.ErrInvalidMetadata, where, re.ID)
		}
		evWhere := fmt.Sprintf("%s.event %q", where, re.Name)
		ev := &EventDeclaration{ID: re.ID, Name: re.Name, StreamID: st.ID, LogLevel: re.LogLevel}
		if ev.Context, err = b.structure(evWhere+".context", re.Context); err != nil {
			return nil, err
		}
		if ev.Fields, err = b.structure(evWhere+".fields", re.Fields); err != nil {
			return nil, err
		}
		st.Events[ev.ID] = ev
	}

	return st, nil
}

func (b *builder) eventHeader(where string, node *yaml.Node) (declaration.Declaration, error) {
	switch node.Kind {
	case 0:
		return nil, nil //nolint: nilnil
	case yaml.ScalarNode:
		switch strings.ToLower(node.Value) {
		case "compact":
			return &declaration.EventHeaderCompactDeclaration{}, nil
		case "large":
			return &declaration.EventHeaderLargeDeclaration{}, nil
		default:
			return nil, fmt.Errorf("%w: %s.event_header: unknown header %q", errs.ErrInvalidMetadata, where, node.Value)
		}
	default:
		var fields []rawType
		if err := node.Decode(&fields); err != nil {
			return nil, fmt.Errorf("%w: %s.event_header: %w", errs.ErrInvalidMetadata, where, err)
		}
		decl, err := b.structure(where+".event_header", fields)
		if err != nil {
			return nil, err
		}
		if decl == nil || !decl.HasField(FieldEventID) {
			return nil, fmt.Errorf("%w: %s.event_header: struct header needs an %q field", errs.ErrInvalidMetadata, where, FieldEventID)
		}

		return decl, nil
	}
}

// structure builds a struct from a field list; an empty list yields nil.
func (b *builder) structure(where string, fields []rawType) (*declaration.StructDeclaration, error) {
	if len(fields) == 0 {
		return nil, nil //nolint: nilnil
	}

	decl := &declaration.StructDeclaration{Fields: make([]declaration.Field, 0, len(fields))}
	for i := range fields {
		f := &fields[i]
		if f.Name == "" {
			return nil, fmt.Errorf("%w: %s: field %d has no name", errs.ErrInvalidMetadata, where, i)
		}
		if decl.HasField(f.Name) {
			return nil, fmt.Errorf("%w: %s: field %q declared twice", errs.ErrInvalidMetadata, where, f.Name)
		}
		d, err := b.declaration(where+"."+f.Name, f)
		if err != nil {
			return nil, err
		}
		decl.Fields = append(decl.Fields, declaration.Field{Name: f.Name, Declaration: d})
	}

	return decl, nil
}

func (b *builder) declaration(where string, t *rawType) (declaration.Declaration, error) {
	kind := strings.ToLower(t.Type)
	switch {
	case kind == "integer":
		return b.integer(where, t, t.Size, t.Signed)
	case strings.HasPrefix(kind, "uint"), strings.HasPrefix(kind, "int"):
		signed := !strings.HasPrefix(kind, "u")
		size, err := strconv.Atoi(strings.TrimLeft(kind, "uint"))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: unknown integer type %q", errs.ErrInvalidMetadata, where, t.Type)
		}

		return b.integer(where, t, size, signed)
	case kind == "string":
		return &declaration.StringDeclaration{}, nil
	case kind == "float", kind == "double", kind == "floating_point":
		return b.float(where, t, kind)
	case kind == "enum":
		return b.enum(where, t)
	case kind == "struct":
		decl, err := b.structure(where, t.Fields)
		if err != nil {
			return nil, err
		}
		if decl == nil {
			decl = &declaration.StructDeclaration{}
		}
		decl.MinAlign = t.Align

		return decl, nil
	case kind == "variant":
		return b.variant(where, t)
	case kind == "array":
		elem, err := b.element(where, t)
		if err != nil {
			return nil, err
		}
		if t.Length <= 0 {
			return nil, fmt.Errorf("%w: %s: array length must be positive", errs.ErrInvalidMetadata, where)
		}

		return &declaration.ArrayDeclaration{Element: elem, Length: t.Length}, nil
	case kind == "sequence":
		elem, err := b.element(where, t)
		if err != nil {
			return nil, err
		}
		if t.LengthField == "" {
			return nil, fmt.Errorf("%w: %s: sequence needs length_field", errs.ErrInvalidMetadata, where)
		}

		return &declaration.SequenceDeclaration{Element: elem, LengthField: t.LengthField}, nil
	default:
		return nil, fmt.Errorf("%w: %s: unknown type %q", errs.ErrInvalidMetadata, where, t.Type)
	}
}

func (b *builder) integer(where string, t *rawType, size int, signed bool) (*declaration.IntegerDeclaration, error) {
	decl := &declaration.IntegerDeclaration{
		Length: size,
		Signed: signed,
		Align:  t.Align,
		Base:   t.Base,
		Clock:  t.Clock,
	}
	if err := decl.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errs.ErrInvalidMetadata, where, err)
	}
	if t.ByteOrder != "" {
		engine, err := endian.Parse(t.ByteOrder)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", where, err)
		}
		decl.ByteOrder = engine
	}
	if t.Clock != "" && !b.clocks[t.Clock] {
		return nil, fmt.Errorf("%w: %s: unknown clock %q", errs.ErrInvalidMetadata, where, t.Clock)
	}

	return decl, nil
}

func (b *builder) float(where string, t *rawType, kind string) (*declaration.FloatDeclaration, error) {
	decl := &declaration.FloatDeclaration{ExponentDigits: t.ExpDig, MantissaDigits: t.MantDig, Align: t.Align}
	switch {
	case kind == "float" && t.ExpDig == 0:
		decl.ExponentDigits, decl.MantissaDigits = 8, 24
	case kind == "double" && t.ExpDig == 0:
		decl.ExponentDigits, decl.MantissaDigits = 11, 53
	}
	if bits := decl.ExponentDigits + decl.MantissaDigits; bits != 32 && bits != 64 {
		return nil, fmt.Errorf("%w: %s: unsupported float layout exp_dig=%d mant_dig=%d",
			errs.ErrInvalidMetadata, where, decl.ExponentDigits, decl.MantissaDigits)
	}
	if t.ByteOrder != "" {
		engine, err := endian.Parse(t.ByteOrder)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", where, err)
		}
		decl.ByteOrder = engine
	}

	return decl, nil
}

func (b *builder) enum(where string, t *rawType) (*declaration.EnumDeclaration, error) {
	if t.Container == nil {
		return nil, fmt.Errorf("%w: %s: enum needs a container type", errs.ErrInvalidMetadata, where)
	}
	cd, err := b.declaration(where+".container", t.Container)
	if err != nil {
		return nil, err
	}
	container, ok := cd.(*declaration.IntegerDeclaration)
	if !ok {
		return nil, fmt.Errorf("%w: %s: enum container must be an integer", errs.ErrInvalidMetadata, where)
	}

	decl := &declaration.EnumDeclaration{Container: container}
	next := int64(0)
	for _, m := range t.Mappings {
		mapping := declaration.EnumMapping{Label: m.Label, Low: next, High: next}
		switch {
		case len(m.Range) == 2:
			mapping.Low, mapping.High = m.Range[0], m.Range[1]
		case len(m.Range) != 0:
			return nil, fmt.Errorf("%w: %s: mapping %q range needs two values", errs.ErrInvalidMetadata, where, m.Label)
		case m.Value != nil:
			mapping.Low, mapping.High = *m.Value, *m.Value
		}
		if mapping.Low > mapping.High {
			return nil, fmt.Errorf("%w: %s: mapping %q range is reversed", errs.ErrInvalidMetadata, where, m.Label)
		}
		decl.Mappings = append(decl.Mappings, mapping)
		next = mapping.High + 1
	}

	return decl, nil
}

func (b *builder) variant(where string, t *rawType) (*declaration.VariantDeclaration, error) {
	if t.Tag == "" || len(t.Options) == 0 {
		return nil, fmt.Errorf("%w: %s: variant needs a tag and options", errs.ErrInvalidMetadata, where)
	}
	options, err := b.structure(where, t.Options)
	if err != nil {
		return nil, err
	}

	return &declaration.VariantDeclaration{Tag: t.Tag, Options: options.Fields}, nil
}

func (b *builder) element(where string, t *rawType) (declaration.Declaration, error) {
	if t.Element == nil {
		return nil, fmt.Errorf("%w: %s: missing element type", errs.ErrInvalidMetadata, where)
	}

	return b.declaration(where+".element", t.Element)
}
