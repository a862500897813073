// Package endian provides byte order selection for trace metadata and binary decoding.
//
// Trace metadata declares the byte order of the whole trace and may override it per
// integer declaration. This package turns those declarations into an EndianEngine,
// which combines the ByteOrder and AppendByteOrder interfaces from encoding/binary:
//
//	engine, err := endian.Parse("be")
//	v := engine.Uint32(buf)
//
// # Thread Safety
//
// All functions in this package are safe for concurrent use.
// The returned EndianEngine instances are immutable and stateless.
package endian

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unsafe"

	"github.com/arloliu/ctftrace/errs"
)

// EndianEngine combines ByteOrder and AppendByteOrder interfaces from encoding/binary
// into a single interface for convenient byte order operations.
//
// This interface is satisfied by binary.LittleEndian and binary.BigEndian.
type EndianEngine interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// CheckEndianness uses a fixed integer value to determine the host's byte order.
func CheckEndianness() EndianEngine {
	var i uint16 = 0x0100
	b := (*[2]byte)(unsafe.Pointer(&i))

	if b[0] == 0x01 {
		return binary.BigEndian
	}

	return binary.LittleEndian
}

// GetLittleEndianEngine returns the little-endian engine.
func GetLittleEndianEngine() EndianEngine {
	return binary.LittleEndian
}

// GetBigEndianEngine returns the big-endian engine.
func GetBigEndianEngine() EndianEngine {
	return binary.BigEndian
}

// IsBigEndian reports whether the engine reads the most significant byte first.
func IsBigEndian(engine EndianEngine) bool {
	return engine == binary.BigEndian
}

// Parse resolves a byte order name as written in trace metadata.
//
// Accepted names (case-insensitive):
//   - "le", "little", "little_endian": little-endian
//   - "be", "big", "big_endian", "network": big-endian
//   - "native": host byte order
//
// Returns errs.ErrInvalidMetadata for any other value.
func Parse(name string) (EndianEngine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "le", "little", "little_endian":
		return binary.LittleEndian, nil
	case "be", "big", "big_endian", "network":
		return binary.BigEndian, nil
	case "native":
		return CheckEndianness(), nil
	default:
		return nil, fmt.Errorf("%w: unknown byte order %q", errs.ErrInvalidMetadata, name)
	}
}

// Name returns the short metadata name ("le" or "be") of the engine.
func Name(engine EndianEngine) string {
	if IsBigEndian(engine) {
		return "be"
	}

	return "le"
}
