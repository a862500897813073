package mapping

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// mapAlignment satisfies both the page size on unix and the 64KiB allocation
// granularity on windows.
var mapAlignment = int64(max(os.Getpagesize(), 64*1024))

// FileSource maps windows of a regular file with mmap.
type FileSource struct {
	name string
	f    *os.File
}

var _ Source = (*FileSource)(nil)

// OpenFile opens path read-only.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stream file %s: %w", path, err)
	}

	return &FileSource{name: path, f: f}, nil
}

func (s *FileSource) Name() string { return s.name }

func (s *FileSource) Growable() bool { return true }

func (s *FileSource) Size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat stream file %s: %w", s.name, err)
	}

	return info.Size(), nil
}

// Map maps [offset, offset+length). The mapping itself starts at the closest
// aligned offset below and the window hides the leading slack.
func (s *FileSource) Map(offset int64, length int) (Window, error) {
	size, err := s.Size()
	if err != nil {
		return nil, err
	}
	if err := checkRange(s.name, offset, length, size); err != nil {
		return nil, err
	}
	if length == 0 {
		return memoryWindow(nil), nil
	}

	aligned := offset - offset%mapAlignment
	slack := int(offset - aligned)

	m, err := mmap.MapRegion(s.f, length+slack, mmap.RDONLY, 0, aligned)
	if err != nil {
		return nil, fmt.Errorf("mmap %s at %d (%d bytes): %w", s.name, offset, length, err)
	}
	adviseSequential(m)

	return &fileWindow{m: m, data: m[slack : slack+length]}, nil
}

func (s *FileSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil

	return err
}

type fileWindow struct {
	m    mmap.MMap
	data []byte
}

func (w *fileWindow) Bytes() []byte { return w.data }

func (w *fileWindow) Release() error {
	if w.m == nil {
		return nil
	}
	err := w.m.Unmap()
	w.m, w.data = nil, nil
	if err != nil {
		return fmt.Errorf("munmap: %w", err)
	}

	return nil
}
