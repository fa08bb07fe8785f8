// Package fdutil provides the fcntl shorthand layer shared by the daemon
// and fifo packages: status flag manipulation, non-blocking mode switches
// and advisory record locks.
package fdutil

import (
	"io"

	"golang.org/x/sys/unix"
)

// SetFlag sets an fcntl status flag on a file descriptor. All other flags
// are unaffected.
func SetFlag(fd int, flag int) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return err
	}

	_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|flag)
	return err
}

// ClearFlag clears an fcntl status flag from a file descriptor. All other
// flags are unaffected.
func ClearFlag(fd int, flag int) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return err
	}

	_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags&^flag)
	return err
}

// NonblockOn puts the file descriptor into non-blocking mode.
func NonblockOn(fd int) error {
	return unix.SetNonblock(fd, true)
}

// NonblockOff puts the file descriptor into blocking mode.
func NonblockOff(fd int) error {
	return unix.SetNonblock(fd, false)
}

// TryWriteLock attempts to acquire an exclusive advisory write lock over the
// whole file without blocking. When another process holds the lock the
// kernel answers EAGAIN (or EACCES on some systems) and that error is
// returned unchanged so callers can distinguish "busy" from real failures.
func TryWriteLock(fd int) error {
	return unix.FcntlFlock(uintptr(fd), unix.F_SETLK, &unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: io.SeekStart,
		Start:  0,
		Len:    0,
	})
}

// LockIsBusy reports whether an error returned by TryWriteLock means the
// lock is held by a live peer.
func LockIsBusy(err error) bool {
	return err == unix.EAGAIN || err == unix.EACCES || err == unix.EWOULDBLOCK
}
