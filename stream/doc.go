// Package stream reads the events of one stream file in file order.
//
// An Input lazily indexes the packets of the file: each call to
// AddPacketHeaderIndex decodes the header and context of the packet following
// the last indexed one, so a file is never scanned ahead of the reader and
// packets appended by a live tracer are picked up on demand.
//
// A Reader walks the indexed packets with a packet.Reader and reports each read
// as a ReadStatus:
//
//	r, err := stream.Open(path, tr, stream.WithLive(true))
//	for {
//		status, err := r.ReadNextEvent()
//		if err != nil { ... }
//		switch status {
//		case stream.StatusOK:     handle(r.CurrentEvent())
//		case stream.StatusWait:   // live file, retry later
//		case stream.StatusFinish: return
//		}
//	}
//
// Neither type is safe for concurrent use.
package stream
