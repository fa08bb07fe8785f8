// Package fifo opens named pipes for reading such that (a) at most one
// process on the host holds the reader role at a time, (b) reads never
// spuriously return end-of-file because all writers momentarily closed,
// and (c) the FIFO is created on demand but never silently reused when the
// path refers to something that is not a FIFO.
//
// The no-EOF property comes from a self-writer: the endpoint keeps its own
// write descriptor open for as long as it lives, so the kernel's read side
// never observes "all writers closed".
//
// Known flaw, exposed rather than concealed: an outside unlink of the FIFO
// is undetectable and would allow a second endpoint to be created on a
// fresh FIFO with the same path.
package fifo

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/wardend/wardend/shared/fdutil"
)

// ErrAddressInUse is returned when the FIFO already has a reader attached
// or, with locking requested, a lock holder.
var ErrAddressInUse = errors.New("FIFO already has a reader")

// Endpoint is an open reading endpoint on a FIFO. The read descriptor is
// in blocking mode; the write descriptor exists solely to keep the read
// side from ever seeing end-of-file.
type Endpoint struct {
	path string
	rfd  int
	wfd  int
}

// Exists reports whether path refers to a FIFO. When prepare is true and
// path refers to something else, that something is unlinked so a FIFO can
// take its place.
func Exists(path string, prepare bool) (bool, error) {
	var st unix.Stat_t
	err := unix.Stat(path, &st)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}

		return false, fmt.Errorf("Failed to stat %q: %w", path, err)
	}

	if st.Mode&unix.S_IFMT != unix.S_IFIFO {
		if prepare {
			_ = os.Remove(path)
		}

		return false, nil
	}

	return true, nil
}

// HasReader reports whether path refers to a FIFO some process is already
// reading. The probe is a non-blocking write-only open: the kernel answers
// ENXIO when no reader is attached.
func HasReader(path string, prepare bool) (bool, error) {
	exists, err := Exists(path, prepare)
	if err != nil || !exists {
		return false, err
	}

	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return false, nil
		}

		return false, fmt.Errorf("Failed to probe %q for a reader: %w", path, err)
	}

	_ = unix.Close(fd)
	return true, nil
}

func fdIsFifo(fd int) (bool, error) {
	var st unix.Stat_t
	err := unix.Fstat(fd, &st)
	if err != nil {
		return false, err
	}

	return st.Mode&unix.S_IFMT == unix.S_IFIFO, nil
}

// Open creates (or reuses) a FIFO at path and returns its reading
// endpoint. A FIFO that already has a reader fails with ErrAddressInUse.
// When lock is true an exclusive advisory write lock is also taken on the
// endpoint's write descriptor, closing the race between two processes that
// both just found no reader.
func Open(path string, mode os.FileMode, lock bool) (*Endpoint, error) {
	// Don't become a second reader.
	hasReader, err := HasReader(path, true)
	if err != nil {
		return nil, err
	}

	if hasReader {
		return nil, ErrAddressInUse
	}

	err = unix.Mkfifo(path, uint32(mode.Perm()))
	if err != nil && !errors.Is(err, unix.EEXIST) {
		return nil, fmt.Errorf("Failed to create FIFO %q: %w", path, err)
	}

	// Open the read side non-blocking: a plain blocking open would wait
	// for a writer that does not exist yet. Our own writer comes next.
	rfd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open FIFO %q for reading: %w", path, err)
	}

	// Re-check through the descriptor: the path may have been swapped
	// for something else between the reader probe and the open.
	isFifo, err := fdIsFifo(rfd)
	if err != nil || !isFifo {
		_ = unix.Close(rfd)
		if err != nil {
			return nil, fmt.Errorf("Failed to stat FIFO %q: %w", path, err)
		}

		return nil, fmt.Errorf("%q was replaced with a non-FIFO", path)
	}

	// The self-writer. Held open for the endpoint's lifetime so reads
	// never see end-of-file when other writers come and go.
	wfd, err := unix.Open(path, unix.O_WRONLY, 0)
	if err != nil {
		_ = unix.Close(rfd)
		return nil, fmt.Errorf("Failed to open FIFO %q for writing: %w", path, err)
	}

	isFifo, err = fdIsFifo(wfd)
	if err != nil || !isFifo {
		_ = unix.Close(rfd)
		_ = unix.Close(wfd)
		if err != nil {
			return nil, fmt.Errorf("Failed to stat FIFO %q: %w", path, err)
		}

		return nil, fmt.Errorf("%q was replaced with a non-FIFO", path)
	}

	if lock {
		err = fdutil.TryWriteLock(wfd)
		if err != nil {
			_ = unix.Close(rfd)
			_ = unix.Close(wfd)
			if fdutil.LockIsBusy(err) {
				return nil, ErrAddressInUse
			}

			return nil, fmt.Errorf("Failed to lock FIFO %q: %w", path, err)
		}
	}

	// The writer exists now, so the read side can safely block.
	err = fdutil.NonblockOff(rfd)
	if err != nil {
		_ = unix.Close(rfd)
		_ = unix.Close(wfd)
		return nil, fmt.Errorf("Failed to restore blocking mode on %q: %w", path, err)
	}

	return &Endpoint{path: path, rfd: rfd, wfd: wfd}, nil
}

// Path returns the FIFO's path.
func (e *Endpoint) Path() string {
	return e.path
}

// Fd returns the read descriptor.
func (e *Endpoint) Fd() int {
	return e.rfd
}

// Read reads from the FIFO, blocking until some other process writes. It
// never returns io.EOF while the endpoint is open.
func (e *Endpoint) Read(p []byte) (int, error) {
	n, err := unix.Read(e.rfd, p)
	if err != nil {
		return 0, fmt.Errorf("Failed to read FIFO %q: %w", e.path, err)
	}

	return n, nil
}

// Close releases both descriptors. The FIFO itself is left on the
// filesystem for the next reader.
func (e *Endpoint) Close() error {
	err1 := unix.Close(e.rfd)
	err2 := unix.Close(e.wfd)
	if err1 != nil {
		return err1
	}

	return err2
}
