// Package event defines the decoded event record handed out by the trace readers.
package event

import (
	"fmt"
	"strings"

	"github.com/arloliu/ctftrace/declaration"
	"github.com/arloliu/ctftrace/metadata"
)

// Lost reports events the tracer dropped before the packet that carries the record.
type Lost struct {
	// Count is the number of events dropped.
	Count uint64
	// Duration is the time window in which the events were dropped, in clock cycles.
	Duration int64
}

// Definition is one decoded event.
//
// Timestamp is the reconstructed absolute time in clock cycles of the trace clock.
// For synthetic lost-event records Lost is set and the decoded scopes are nil.
type Definition struct {
	Declaration *metadata.EventDeclaration
	ID          uint64
	StreamID    uint64
	Timestamp   int64
	// Target is the logical source of the event, such as "CPU3".
	Target   string
	TargetID int64

	Header        declaration.Definition
	StreamContext *declaration.StructDefinition
	Context       *declaration.StructDefinition
	Fields        *declaration.StructDefinition
	PacketContext *declaration.StructDefinition

	Lost *Lost
}

// Name returns the declared event name.
func (d *Definition) Name() string {
	if d.Declaration == nil {
		return ""
	}

	return d.Declaration.Name
}

// IsLost reports whether the record is a synthetic lost-event record.
func (d *Definition) IsLost() bool {
	return d.Lost != nil
}

// Field looks a payload field up by name, then the event context and the stream context.
func (d *Definition) Field(name string) declaration.Definition {
	for _, scope := range []*declaration.StructDefinition{d.Fields, d.Context, d.StreamContext} {
		if scope == nil {
			continue
		}
		if def := scope.Field(name); def != nil {
			return def
		}
	}

	return nil
}

func (d *Definition) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%d] %s %s", d.Timestamp, d.Target, d.Name())
	if d.Lost != nil {
		fmt.Fprintf(&sb, " { count = %d, duration = %d }", d.Lost.Count, d.Lost.Duration)
		return sb.String()
	}
	for _, scope := range []*declaration.StructDefinition{d.StreamContext, d.Context, d.Fields} {
		if scope != nil {
			sb.WriteString(" ")
			sb.WriteString(scope.Format())
		}
	}

	return sb.String()
}
