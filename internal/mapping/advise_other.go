//go:build !linux

package mapping

func adviseSequential([]byte) {}
