package event

import (
	"testing"

	"github.com/arloliu/ctftrace/bitio"
	"github.com/arloliu/ctftrace/declaration"
	"github.com/arloliu/ctftrace/endian"
	"github.com/arloliu/ctftrace/metadata"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, decl *declaration.StructDeclaration, data []byte) *declaration.StructDefinition {
	t.Helper()

	def, err := decl.Decode(bitio.NewReader(data, endian.GetLittleEndianEngine()), nil)
	require.NoError(t, err)

	return def.(*declaration.StructDefinition)
}

func TestDefinition(t *testing.T) {
	fields := decode(t, declaration.NewStruct(
		declaration.Field{Name: "irq", Declaration: declaration.NewUnsigned(8)},
	), []byte{17})
	streamCtx := decode(t, declaration.NewStruct(
		declaration.Field{Name: "pid", Declaration: declaration.NewUnsigned(8)},
	), []byte{4})

	ev := &Definition{
		Declaration:   &metadata.EventDeclaration{ID: 1, Name: "irq_handler_entry"},
		ID:            1,
		Timestamp:     1000,
		Target:        "CPU2",
		StreamContext: streamCtx,
		Fields:        fields,
	}

	require.Equal(t, "irq_handler_entry", ev.Name())
	require.False(t, ev.IsLost())
	require.Equal(t, uint64(17), ev.Field("irq").(*declaration.IntegerDefinition).Value)
	require.Equal(t, uint64(4), ev.Field("pid").(*declaration.IntegerDefinition).Value)
	require.Nil(t, ev.Field("missing"))
	require.Equal(t, "[1000] CPU2 irq_handler_entry { pid = 4 } { irq = 17 }", ev.String())
}

func TestDefinition_Lost(t *testing.T) {
	ev := &Definition{
		Declaration: metadata.LostEventDeclaration,
		ID:          metadata.LostEventID,
		Timestamp:   50,
		Target:      "CPU0",
		Lost:        &Lost{Count: 5, Duration: 10},
	}

	require.True(t, ev.IsLost())
	require.Equal(t, metadata.LostEventName, ev.Name())
	require.Equal(t, "[50] CPU0 Lost event { count = 5, duration = 10 }", ev.String())
	require.Equal(t, "", (&Definition{}).Name())
}
