package seq

import (
	"sync"
	"sync/atomic"
)

// Locker abstracts the synchronization strategy protecting a sequence.
// A sequence consults its locker before every read and write; a nil locker
// makes all operations single-threaded and lock-free.
type Locker interface {
	// RdLock acquires the lock for reading.
	RdLock()

	// WrLock acquires the lock for writing.
	WrLock()

	// Unlock releases the lock.
	Unlock()
}

// MutexLocker serializes readers and writers with a single mutex.
type MutexLocker struct {
	mu sync.Mutex
}

// NewMutexLocker returns a Locker backed by a mutex.
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{}
}

// RdLock acquires the mutex.
func (l *MutexLocker) RdLock() { l.mu.Lock() }

// WrLock acquires the mutex.
func (l *MutexLocker) WrLock() { l.mu.Lock() }

// Unlock releases the mutex.
func (l *MutexLocker) Unlock() { l.mu.Unlock() }

// RWMutexLocker lets readers share the lock while writers get exclusion.
type RWMutexLocker struct {
	mu     sync.RWMutex
	writer atomic.Bool
}

// NewRWMutexLocker returns a Locker backed by a readers-writer lock.
func NewRWMutexLocker() *RWMutexLocker {
	return &RWMutexLocker{}
}

// RdLock acquires the lock for reading. Readers may share it.
func (l *RWMutexLocker) RdLock() { l.mu.RLock() }

// WrLock acquires the lock for writing.
func (l *RWMutexLocker) WrLock() {
	l.mu.Lock()
	l.writer.Store(true)
}

// Unlock releases the lock. Readers and the writer are mutually exclusive,
// so when the writer flag is set the caller must be the writer.
func (l *RWMutexLocker) Unlock() {
	if l.writer.Load() {
		l.writer.Store(false)
		l.mu.Unlock()
		return
	}

	l.mu.RUnlock()
}
