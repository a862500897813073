package mapping

// MemorySource serves windows from an in-memory copy of a stream file.
type MemorySource struct {
	name string
	data []byte
}

var _ Source = (*MemorySource)(nil)

// NewMemorySource wraps data; the slice is owned by the source from now on.
func NewMemorySource(name string, data []byte) *MemorySource {
	return &MemorySource{name: name, data: data}
}

func (s *MemorySource) Name() string { return s.name }

func (s *MemorySource) Size() (int64, error) { return int64(len(s.data)), nil }

func (s *MemorySource) Growable() bool { return false }

func (s *MemorySource) Map(offset int64, length int) (Window, error) {
	if err := checkRange(s.name, offset, length, int64(len(s.data))); err != nil {
		return nil, err
	}

	return memoryWindow(s.data[offset : offset+int64(length)]), nil
}

func (s *MemorySource) Close() error {
	s.data = nil
	return nil
}

type memoryWindow []byte

func (w memoryWindow) Bytes() []byte { return w }

func (w memoryWindow) Release() error { return nil }
