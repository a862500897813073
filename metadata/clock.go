package metadata

const nanosPerSecond = 1_000_000_000

// Clock converts raw timestamp cycles to nanoseconds since the clock epoch.
type Clock struct {
	Name        string
	Description string
	// Frequency is the number of cycles per second.
	Frequency uint64
	// OffsetSeconds and Offset (in cycles) locate the clock origin relative to the epoch.
	OffsetSeconds int64
	Offset        int64
	Precision     uint64
	Absolute      bool
}

// CyclesToNanos converts a cycle count read from the trace to nanoseconds,
// applying the clock offsets.
func (c *Clock) CyclesToNanos(cycles uint64) int64 {
	freq := c.Frequency
	if freq == 0 {
		freq = nanosPerSecond
	}

	total := int64(cycles) + c.Offset //nolint: gosec
	var ns int64
	if freq == nanosPerSecond {
		ns = total
	} else {
		f := int64(freq) //nolint: gosec
		ns = total/f*nanosPerSecond + total%f*nanosPerSecond/f
	}

	return ns + c.OffsetSeconds*nanosPerSecond
}
