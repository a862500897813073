// Package compress provides codecs for compressed trace stream files.
//
// Trace archives are sometimes shipped with each per-stream binary file compressed
// individually (for example channel0_0.zst). Such files are decompressed once, in
// full, and then read through the same packet window interface as plain files.
// Compressed stream files are immutable: they can never be read in live mode.
//
// # Supported Algorithms
//
// The codec is selected from the file suffix via format.CompressionFromPath:
//
//	.zst / .zstd  Zstandard frames (klauspost/compress, or valyala/gozstd with -tags gozstd)
//	.s2           S2 stream format (klauspost/compress/s2)
//	.lz4          LZ4 frame format (pierrec/lz4/v4)
//	(other)       plain file, NoOpCompressor
//
// # Usage
//
//	codec, err := compress.GetCodec(format.CompressionFromPath(path))
//	if err != nil {
//	    return err
//	}
//	plain, err := codec.Decompress(raw)
//
// # Thread Safety
//
// All codecs are stateless values and safe for concurrent use. Zstd encoders and
// decoders are pooled internally.
package compress
