// Package trace merges the stream files of a trace directory into one
// time-ordered event cursor.
//
// A trace directory holds a metadata.yaml schema and one or more stream files
// (typically one per CPU and stream). Open creates a stream.Reader per file and
// keeps them in a priority queue keyed by the timestamp of their current event:
//
//	r, err := trace.Open(dir)
//	if err != nil {
//		return err
//	}
//	defer r.Close()
//
//	for ev, err := range r.Events() {
//		if err != nil {
//			return err
//		}
//		fmt.Println(ev)
//	}
//
// Events with equal timestamps come out in file registration order: files are
// registered by name at Open, files found later by Update after them.
//
// # Live traces
//
// With WithLive(true) a reader at the end of its file reports WAIT instead of
// finishing and stays queued behind every reader that has an event. The Reader
// never blocks or polls on its own; callers retry Advance, or call Update to pick
// up new files, new metadata and data appended to waiting files.
//
// A Reader is not safe for concurrent use.
package trace
