package compress

import (
	"fmt"

	"github.com/arloliu/ctftrace/format"
)

type Compressor interface {
	// Compress compresses the whole input and returns a newly allocated result.
	//
	// The trace reader never writes stream files; compression exists so tooling and
	// tests can produce compressed archives that the reader accepts.
	Compress(data []byte) ([]byte, error)
}

type Decompressor interface {
	// Decompress decompresses a complete compressed stream file.
	//
	// Error conditions:
	//   - Returns error if input data is corrupted or truncated
	//   - Returns error if data was compressed with a different algorithm
	//
	// The returned slice is newly allocated and owned by the caller. The input slice
	// is not retained and may be reused after the call returns.
	Decompress(data []byte) ([]byte, error)
}

type Codec interface {
	Compressor
	Decompressor
}

var builtinCodecs = map[format.CompressionType]Codec{
	format.CompressionNone: NewNoOpCompressor(),
	format.CompressionZstd: NewZstdCompressor(),
	format.CompressionS2:   NewS2Compressor(),
	format.CompressionLZ4:  NewLZ4Compressor(),
}

// GetCodec returns the shared codec for the compression type.
func GetCodec(compressionType format.CompressionType) (Codec, error) {
	if codec, ok := builtinCodecs[compressionType]; ok {
		return codec, nil
	}

	return nil, fmt.Errorf("unsupported compression type: %s", compressionType)
}
