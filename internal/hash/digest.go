// Package hash computes content digests with xxHash64.
package hash

import "github.com/cespare/xxhash/v2"

// Digest computes the xxHash64 of raw metadata bytes. It is used to detect that the
// metadata file of a live trace has grown since it was last parsed.
func Digest(data []byte) uint64 {
	return xxhash.Sum64(data)
}
