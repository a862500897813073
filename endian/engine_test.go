package endian

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/arloliu/ctftrace/errs"
	"github.com/stretchr/testify/require"
)

func TestCheckEndianness(t *testing.T) {
	require := require.New(t)

	result := CheckEndianness()

	var testValue uint16 = 0x0102
	testBytes := (*[2]byte)(unsafe.Pointer(&testValue))

	switch testBytes[0] {
	case 0x01:
		require.Equal(binary.BigEndian, result)
	case 0x02:
		require.Equal(binary.LittleEndian, result)
	default:
		require.Failf("Unexpected byte value", "got: %v", testBytes[0])
	}
}

func TestParse(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected EndianEngine
	}{
		{name: "short le", input: "le", expected: binary.LittleEndian},
		{name: "long little", input: "little_endian", expected: binary.LittleEndian},
		{name: "short be", input: "be", expected: binary.BigEndian},
		{name: "network", input: "network", expected: binary.BigEndian},
		{name: "upper case", input: " BE ", expected: binary.BigEndian},
		{name: "native", input: "native", expected: CheckEndianness()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			engine, err := Parse(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.expected, engine)
		})
	}

	t.Run("unknown", func(t *testing.T) {
		_, err := Parse("middle")
		require.ErrorIs(t, err, errs.ErrInvalidMetadata)
	})
}

func TestName(t *testing.T) {
	require.Equal(t, "le", Name(GetLittleEndianEngine()))
	require.Equal(t, "be", Name(GetBigEndianEngine()))
	require.True(t, IsBigEndian(GetBigEndianEngine()))
	require.False(t, IsBigEndian(GetLittleEndianEngine()))
}
