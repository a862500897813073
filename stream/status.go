package stream

// ReadStatus is the outcome of Reader.ReadNextEvent.
type ReadStatus uint8

const (
	// StatusOK means a new current event is available.
	StatusOK ReadStatus = iota
	// StatusWait means a live file has no complete packet to read yet.
	StatusWait
	// StatusFinish means the file is exhausted for good.
	StatusFinish
)

func (s ReadStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWait:
		return "WAIT"
	case StatusFinish:
		return "FINISH"
	default:
		return "Unknown"
	}
}
