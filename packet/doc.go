// Package packet indexes and decodes the packets of a stream file.
//
// A stream file is a sequence of independently framed packets. Each packet starts
// with an optional trace-level header, followed by the stream packet context and
// the event records:
//
//	┌─────────────────────────────────────────────────────────┐
//	│ Packet header (optional, trace-wide layout)             │
//	│  - magic (0xC1FC1FC1), uuid, stream_id                  │
//	├─────────────────────────────────────────────────────────┤
//	│ Packet context (per stream layout)                      │
//	│  - timestamp_begin, timestamp_end                       │
//	│  - content_size, packet_size (bits)                     │
//	│  - events_discarded (cumulative), cpu_id                │
//	├─────────────────────────────────────────────────────────┤
//	│ Events (until content_size)                             │
//	│  - event header, stream event context,                  │
//	│    event context, payload fields                        │
//	├─────────────────────────────────────────────────────────┤
//	│ Padding (packet_size - content_size)                    │
//	└─────────────────────────────────────────────────────────┘
//
// # Index
//
// IndexEntry records where a packet is and which time range it covers. Index keeps
// the entries of one file in non-decreasing begin order and finds the packet to
// start from when seeking to a timestamp in O(log n).
//
// # Reader
//
// Reader is bound to one IndexEntry at a time. Binding maps exactly the packet's
// byte range, re-decodes its header and context, and resets the compact timestamp
// baseline to the packet begin time. The window is released on the next bind or on
// Close, so a reader never pins more than one packet.
package packet
