package declaration

import (
	"github.com/arloliu/ctftrace/bitio"
)

const (
	compactIDBits        = 5
	compactTimestampBits = 27
	compactExtendedID    = 1<<compactIDBits - 1

	largeIDBits        = 16
	largeTimestampBits = 32
	largeExtendedID    = 1<<largeIDBits - 1
)

// EventHeaderCompactDeclaration is the packed event header used by per-CPU kernel
// streams: a 5-bit id and a 27-bit timestamp in one 32-bit word. Id 31 escapes to an
// extended form carrying a 32-bit id and a full 64-bit timestamp.
type EventHeaderCompactDeclaration struct{}

// Alignment implements Declaration.
func (d *EventHeaderCompactDeclaration) Alignment() int64 { return 8 }

// Decode implements Declaration.
func (d *EventHeaderCompactDeclaration) Decode(r *bitio.Reader, _ Scope) (Definition, error) {
	if err := r.Align(8); err != nil {
		return nil, err
	}
	id, err := r.ReadBits(compactIDBits, nil)
	if err != nil {
		return nil, err
	}
	if id < compactExtendedID {
		ts, err := r.ReadBits(compactTimestampBits, nil)
		if err != nil {
			return nil, err
		}

		return &EventHeaderDefinition{decl: d, ID: id, Timestamp: ts, TimestampLength: compactTimestampBits}, nil
	}

	return decodeExtendedHeader(r, d)
}

// EventHeaderLargeDeclaration is the event header used by streams with many event
// types: a 16-bit id followed by a 32-bit timestamp. Id 65535 escapes to the
// extended form.
type EventHeaderLargeDeclaration struct{}

// Alignment implements Declaration.
func (d *EventHeaderLargeDeclaration) Alignment() int64 { return 8 }

// Decode implements Declaration.
func (d *EventHeaderLargeDeclaration) Decode(r *bitio.Reader, _ Scope) (Definition, error) {
	if err := r.Align(8); err != nil {
		return nil, err
	}
	id, err := r.ReadBits(largeIDBits, nil)
	if err != nil {
		return nil, err
	}
	if id < largeExtendedID {
		if err := r.Align(8); err != nil {
			return nil, err
		}
		ts, err := r.ReadBits(largeTimestampBits, nil)
		if err != nil {
			return nil, err
		}

		return &EventHeaderDefinition{decl: d, ID: id, Timestamp: ts, TimestampLength: largeTimestampBits}, nil
	}

	return decodeExtendedHeader(r, d)
}

func decodeExtendedHeader(r *bitio.Reader, decl Declaration) (Definition, error) {
	if err := r.Align(8); err != nil {
		return nil, err
	}
	id, err := r.ReadBits(32, nil)
	if err != nil {
		return nil, err
	}
	if err := r.Align(8); err != nil {
		return nil, err
	}
	ts, err := r.ReadBits(64, nil)
	if err != nil {
		return nil, err
	}

	return &EventHeaderDefinition{decl: decl, ID: id, Timestamp: ts, TimestampLength: 64}, nil
}

// EventHeaderDefinition is a decoded unified event header. Timestamp holds only the
// low TimestampLength bits of the event time and must be widened by the reader.
type EventHeaderDefinition struct {
	decl            Declaration
	ID              uint64
	Timestamp       uint64
	TimestampLength int
}

// Declaration implements Definition.
func (d *EventHeaderDefinition) Declaration() Declaration { return d.decl }

// Extended reports whether the header used the escape form with a full timestamp.
func (d *EventHeaderDefinition) Extended() bool { return d.TimestampLength == 64 }
