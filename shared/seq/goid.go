package seq

import (
	"bytes"
	"runtime"
	"strconv"
)

// goid returns the current goroutine's id. The internal iterator needs a
// caller identity to detect a takeover from another goroutine, and the
// runtime does not expose one, so the id is parsed out of the first line of
// the stack dump ("goroutine N [running]:").
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}

	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}

	return id
}
