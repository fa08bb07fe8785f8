// Package limits answers the two resource limit queries the rest of the
// library needs. Both queries always return a usable value: when the system
// reports the limit as indeterminate or the query itself fails, a
// conservative guess is returned instead.
package limits

import (
	"sync"

	"golang.org/x/sys/unix"
)

const (
	// FallbackOpenMax is used when the open file limit is indeterminate.
	FallbackOpenMax = 1024

	// FallbackPathMax is used when the path length limit is indeterminate.
	FallbackPathMax = 4096
)

var openMaxOnce = sync.OnceValue(func() int {
	var limit unix.Rlimit
	err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit)
	if err != nil || limit.Cur == unix.RLIM_INFINITY || limit.Cur == 0 {
		return FallbackOpenMax
	}

	return int(limit.Cur)
})

// OpenMax returns the maximum number of files this process may have open.
// The result is cached for the lifetime of the process.
func OpenMax() int {
	return openMaxOnce()
}

// PathMax returns the maximum length of a file path on this system.
func PathMax() int {
	if unix.PathMax > 0 {
		return unix.PathMax
	}

	return FallbackPathMax
}
