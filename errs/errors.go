// Package errs defines the sentinel errors returned by the trace reader packages.
//
// Errors are wrapped with additional context (file, offset, field name) using
// fmt.Errorf("...: %w", err), so callers should match them with errors.Is.
package errs

import "errors"

// Format errors. The input is corrupt or does not match its metadata; they are never retried.
var (
	ErrInvalidMagicNumber       = errors.New("invalid packet magic number")
	ErrUUIDMismatch             = errors.New("packet uuid does not match trace uuid")
	ErrStreamIDMismatch         = errors.New("packet stream id does not match owning stream")
	ErrContentSizeExceedsPacket = errors.New("content size exceeds packet size")
	ErrPacketSizeExceedsFile    = errors.New("packet size exceeds remaining file size")
	ErrInvalidPacketSize        = errors.New("invalid packet size")
	ErrUnknownEventID           = errors.New("unknown event id")
	ErrEmptyEvent               = errors.New("event decoded to zero bits")
	ErrTruncated                = errors.New("read past end of buffer")
	ErrUnknownStream            = errors.New("unknown stream id")
	ErrVariantTag               = errors.New("cannot resolve variant tag")
)

// Index invariant violations. These indicate a bug in offset bookkeeping rather than bad input.
var (
	ErrIndexOutOfOrder   = errors.New("index entry begins before the previous entry")
	ErrIndexInvalidRange = errors.New("index entry ends before it begins")
)

// Metadata and declaration errors.
var (
	ErrInvalidDeclaration = errors.New("invalid declaration")
	ErrInvalidMetadata    = errors.New("invalid metadata")
	ErrMetadataConflict   = errors.New("metadata redefines an existing declaration")
)

// Lifecycle errors.
var (
	ErrReaderClosed = errors.New("reader is closed")
)
