package format

import (
	"path/filepath"
	"strings"
)

type CompressionType uint8

const (
	CompressionNone CompressionType = 0x1 // CompressionNone represents a plain stream file.
	CompressionZstd CompressionType = 0x2 // CompressionZstd represents a Zstandard compressed stream file.
	CompressionS2   CompressionType = 0x3 // CompressionS2 represents an S2 compressed stream file.
	CompressionLZ4  CompressionType = 0x4 // CompressionLZ4 represents an LZ4 block compressed stream file.
)

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "None"
	case CompressionZstd:
		return "Zstd"
	case CompressionS2:
		return "S2"
	case CompressionLZ4:
		return "LZ4"
	default:
		return "Unknown"
	}
}

// Extension returns the file name suffix used for the compression type, or "" for none.
func (c CompressionType) Extension() string {
	switch c {
	case CompressionZstd:
		return ".zst"
	case CompressionS2:
		return ".s2"
	case CompressionLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// CompressionFromPath derives the compression type of a stream file from its suffix.
// Files without a known suffix are plain (CompressionNone).
func CompressionFromPath(path string) CompressionType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		return CompressionZstd
	case ".s2":
		return CompressionS2
	case ".lz4":
		return CompressionLZ4
	default:
		return CompressionNone
	}
}
