// Package mapping exposes stream files as bounded, read-only byte windows.
//
// A packet reader maps exactly the byte range of the packet it is bound to and
// releases that window before binding the next packet, so the memory pinned by a
// reader never exceeds one packet regardless of the file size.
package mapping

import (
	"fmt"
	"io"
	"os"

	"github.com/arloliu/ctftrace/compress"
	"github.com/arloliu/ctftrace/format"
	"github.com/arloliu/ctftrace/internal/pool"
)

// Window is a read-only view over a byte range of a Source.
//
// The slice returned by Bytes is only valid until Release is called.
type Window interface {
	Bytes() []byte
	Release() error
}

// Source is a stream file that can be mapped window by window.
type Source interface {
	// Name returns the path of the underlying file.
	Name() string
	// Size returns the current size in bytes. For live files the value grows between calls.
	Size() (int64, error)
	// Map maps length bytes starting at offset.
	Map(offset int64, length int) (Window, error)
	// Growable reports whether the source may grow after it was opened.
	Growable() bool
	Close() error
}

// Open opens a stream file. Compressed files (by suffix) are decompressed into
// memory; all other files are memory-mapped on demand.
func Open(path string) (Source, error) {
	ct := format.CompressionFromPath(path)
	if ct == format.CompressionNone {
		return OpenFile(path)
	}

	return openCompressed(path, ct)
}

func openCompressed(path string, ct format.CompressionType) (Source, error) {
	codec, err := compress.GetCodec(ct)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stream file %s: %w", path, err)
	}
	defer f.Close()

	buf := pool.GetFileBuffer()
	defer pool.PutFileBuffer(buf)

	if _, err := buf.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("read stream file %s: %w", path, err)
	}

	data, err := codec.Decompress(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("decompress stream file %s (%s): %w", path, ct, err)
	}

	return NewMemorySource(path, data), nil
}

func checkRange(name string, offset int64, length int, size int64) error {
	if offset < 0 || length < 0 || offset+int64(length) > size {
		return fmt.Errorf("map %s [%d, %d) beyond size %d: %w", name, offset, offset+int64(length), size, io.ErrUnexpectedEOF)
	}

	return nil
}
