package compress

// ZstdCompressor handles .zst stream files. The implementation is selected at build
// time: pure Go by default, cgo (gozstd) with the gozstd build tag.
type ZstdCompressor struct{}

var _ Codec = (*ZstdCompressor)(nil)

func NewZstdCompressor() ZstdCompressor {
	return ZstdCompressor{}
}
