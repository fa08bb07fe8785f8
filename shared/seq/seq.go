// Package seq implements an ordered, optionally synchronized, optionally
// owning sequence of elements with both an external and a built-in
// iterator.
//
// A sequence that was created with a destructor owns its elements: the
// destructor runs exactly once for every element that is removed and for
// every element still present when the sequence is destroyed. Elements
// returned by Pop and Shift are handed back to the caller undestroyed.
//
// Operations that mix sequences with differing ownership must follow the
// copy rules: moving elements between two owning sequences requires a deep
// copier, and moving elements between an owning and a non-owning sequence
// is rejected outright to prevent double frees and dangling elements.
//
// A mutating operation that fails leaves the sequence observably unchanged
// except for elements whose destructors had already run before the failing
// step. Destructors are irrevocable: ReplaceSeq destroys the replaced range
// before the incoming elements are validated, so an ownership error from it
// does not resurrect the destroyed elements.
package seq

import (
	"errors"
	"slices"
	"sync/atomic"
)

var (
	// ErrBadArgument is returned for out-of-range indexes and nil inputs
	// where a value is required.
	ErrBadArgument = errors.New("Bad argument")

	// ErrOwnership is returned when an operation would move elements
	// between sequences with incompatible ownership policies.
	ErrOwnership = errors.New("Incompatible element ownership")

	// ErrIterOwner is returned when an iterator is used from a goroutine
	// other than the one that created it.
	ErrIterOwner = errors.New("Iterator used outside its owning goroutine")

	// ErrNoIterator is returned when Next or RemoveCurrent is called with no
	// internal iterator in place.
	ErrNoIterator = errors.New("No internal iterator")
)

// Minimum backing array capacity. Must be a power of two.
const minSize = 4

// Seq is a dynamically sized ordered sequence of elements.
type Seq[T any] struct {
	buf     []T     // backing array, len(buf) is the capacity
	length  int     // number of elements in use
	destroy func(T) // element destructor, if the sequence owns its elements
	locker  Locker

	// Built-in iterator. Atomic because a takeover check from another
	// goroutine reads it before acquiring the lock.
	cur atomic.Pointer[Iter[T]]
}

// New creates an empty sequence. A non-nil destroy function makes the
// sequence own its elements.
func New[T any](destroy func(T)) *Seq[T] {
	return NewWithLocker[T](nil, destroy)
}

// NewWithLocker creates an empty sequence protected by the given locker.
func NewWithLocker[T any](locker Locker, destroy func(T)) *Seq[T] {
	return &Seq[T]{
		buf:     make([]T, minSize),
		destroy: destroy,
		locker:  locker,
	}
}

// Make creates a sequence holding the given elements.
func Make[T any](destroy func(T), items ...T) *Seq[T] {
	return MakeWithLocker[T](nil, destroy, items...)
}

// MakeWithLocker creates a sequence holding the given elements, protected
// by the given locker.
func MakeWithLocker[T any](locker Locker, destroy func(T), items ...T) *Seq[T] {
	s := NewWithLocker[T](locker, destroy)
	s.grow(len(items))
	copy(s.buf, items)
	s.length = len(items)
	return s
}

// Copy creates a copy of src. When src owns its elements the copier is
// required and the copy owns its elements too; when src does not own its
// elements the copier must be nil and the elements are shared.
func Copy[T any](src *Seq[T], copier func(T) T) (*Seq[T], error) {
	return CopyWithLocker(nil, src, copier)
}

// CopyWithLocker creates a copy of src protected by the given locker.
func CopyWithLocker[T any](locker Locker, src *Seq[T], copier func(T) T) (*Seq[T], error) {
	if src == nil {
		return nil, ErrBadArgument
	}

	src.rdlock()
	defer src.unlock()

	return src.extractUnlocked(locker, 0, src.length, copier)
}

func (s *Seq[T]) rdlock() {
	if s.locker != nil {
		s.locker.RdLock()
	}
}

func (s *Seq[T]) wrlock() {
	if s.locker != nil {
		s.locker.WrLock()
	}
}

func (s *Seq[T]) unlock() {
	if s.locker != nil {
		s.locker.Unlock()
	}
}

// RdLock acquires the sequence's lock for reading.
func (s *Seq[T]) RdLock() { s.rdlock() }

// WrLock acquires the sequence's lock for writing.
func (s *Seq[T]) WrLock() { s.wrlock() }

// Unlock releases the sequence's lock.
func (s *Seq[T]) Unlock() { s.unlock() }

// grow enlarges the backing array so that items more elements fit,
// doubling the capacity as many times as needed.
func (s *Seq[T]) grow(items int) {
	size := len(s.buf)
	grown := false

	for s.length+items > size {
		if size == 0 {
			size = minSize
		} else {
			size <<= 1
		}

		grown = true
	}

	if grown {
		buf := make([]T, size)
		copy(buf, s.buf[:s.length])
		s.buf = buf
	}
}

// shrink halves the backing array while removing items elements would leave
// it under half full, never below the minimum capacity.
func (s *Seq[T]) shrink(items int) {
	size := len(s.buf)
	shrunk := false

	for s.length-items < size>>1 {
		if size <= minSize {
			break
		}

		size >>= 1
		shrunk = true
	}

	if shrunk {
		buf := make([]T, size)
		copy(buf, s.buf[:s.length-items])
		s.buf = buf
	}
}

// expand slides the elements starting at index count slots to the right.
func (s *Seq[T]) expand(index int, count int) {
	s.grow(count)
	copy(s.buf[index+count:s.length+count], s.buf[index:s.length])
	s.length += count
}

// contract closes a gap of count slots starting at index.
func (s *Seq[T]) contract(index int, count int) {
	copy(s.buf[index:], s.buf[index+count:s.length])

	var zero T
	for i := s.length - count; i < s.length && i < len(s.buf); i++ {
		s.buf[i] = zero
	}

	s.shrink(count)
	s.length -= count
}

// adjust expands or contracts the sequence so that the elements from
// index+count onwards end up at index+newlen.
func (s *Seq[T]) adjust(index int, count int, newlen int) {
	if count < newlen {
		s.expand(index+count, newlen-count)
	} else if count > newlen {
		s.contract(index+newlen, count-newlen)
	}
}

func (s *Seq[T]) killRange(index int, count int) {
	if s.destroy == nil {
		return
	}

	for i := index; i < index+count; i++ {
		s.destroy(s.buf[i])
	}
}

// Destroy destroys the sequence, applying the destructor (if any) exactly
// once to every element still present. The sequence must not be used
// afterwards.
func (s *Seq[T]) Destroy() {
	s.wrlock()
	defer s.unlock()

	s.killRange(0, s.length)
	s.buf = nil
	s.length = 0
	s.cur.Store(nil)
}

// Own installs a destructor, making the sequence own all of its current and
// future elements.
func (s *Seq[T]) Own(destroy func(T)) error {
	if destroy == nil {
		return ErrBadArgument
	}

	s.wrlock()
	defer s.unlock()

	s.destroy = destroy
	return nil
}

// Disown uninstalls the destructor and returns it. The elements are no
// longer owned by the sequence.
func (s *Seq[T]) Disown() func(T) {
	s.wrlock()
	defer s.unlock()

	destroy := s.destroy
	s.destroy = nil
	return destroy
}

// Owns reports whether the sequence owns its elements.
func (s *Seq[T]) Owns() bool {
	s.rdlock()
	defer s.unlock()

	return s.destroy != nil
}

// Item returns the element at the given index.
func (s *Seq[T]) Item(index int) (T, error) {
	s.rdlock()
	defer s.unlock()

	return s.itemUnlocked(index)
}

func (s *Seq[T]) itemUnlocked(index int) (T, error) {
	var zero T
	if index < 0 || index >= s.length {
		return zero, ErrBadArgument
	}

	return s.buf[index], nil
}

// Empty reports whether the sequence has no elements.
func (s *Seq[T]) Empty() bool {
	s.rdlock()
	defer s.unlock()

	return s.length == 0
}

// Length returns the number of elements in the sequence.
func (s *Seq[T]) Length() int {
	s.rdlock()
	defer s.unlock()

	return s.length
}

// Last returns the index of the last element, or -1 when the sequence is
// empty.
func (s *Seq[T]) Last() int {
	s.rdlock()
	defer s.unlock()

	return s.length - 1
}

// Insert inserts an element at the given index, shifting the elements from
// that index onwards one slot to the right.
func (s *Seq[T]) Insert(index int, item T) error {
	s.wrlock()
	defer s.unlock()

	return s.insertUnlocked(index, item)
}

func (s *Seq[T]) insertUnlocked(index int, item T) error {
	if index < 0 || index > s.length {
		return ErrBadArgument
	}

	s.expand(index, 1)
	s.buf[index] = item
	return nil
}

// Append adds an element at the end of the sequence.
func (s *Seq[T]) Append(item T) error {
	s.wrlock()
	defer s.unlock()

	return s.insertUnlocked(s.length, item)
}

// Prepend adds an element at the start of the sequence.
func (s *Seq[T]) Prepend(item T) error {
	s.wrlock()
	defer s.unlock()

	return s.insertUnlocked(0, item)
}

// Remove removes the element at the given index. When the sequence owns its
// elements, the removed element is destroyed.
func (s *Seq[T]) Remove(index int) error {
	return s.RemoveRange(index, 1)
}

// RemoveRange removes count elements starting at index. When the sequence
// owns its elements, every removed element is destroyed.
func (s *Seq[T]) RemoveRange(index int, count int) error {
	s.wrlock()
	defer s.unlock()

	return s.removeRangeUnlocked(index, count)
}

func (s *Seq[T]) removeRangeUnlocked(index int, count int) error {
	if index < 0 || count < 0 || index+count > s.length {
		return ErrBadArgument
	}

	s.killRange(index, count)
	s.contract(index, count)
	return nil
}

// Replace replaces count elements starting at index with a single element.
// Replaced elements are destroyed when the sequence owns its elements.
func (s *Seq[T]) Replace(index int, count int, item T) error {
	s.wrlock()
	defer s.unlock()

	if index < 0 || count < 0 || index+count > s.length {
		return ErrBadArgument
	}

	s.killRange(index, count)
	s.adjust(index, count, 1)
	s.buf[index] = item
	return nil
}

// copyCompat validates the ownership copy rules between a destination
// ownership policy and a source sequence.
func copyCompat[T any](dstOwns bool, src *Seq[T], copier func(T) T) error {
	if dstOwns != (src.destroy != nil) {
		return ErrOwnership
	}

	if dstOwns && copier == nil {
		return ErrOwnership
	}

	return nil
}

// InsertSeq inserts a copy of src's elements at the given index. Both
// sequences must follow the ownership copy rules.
func (s *Seq[T]) InsertSeq(index int, src *Seq[T], copier func(T) T) error {
	if src == nil {
		return ErrBadArgument
	}

	s.wrlock()
	defer s.unlock()

	// Avoid a second acquisition when both sequences share a locker.
	if src != s && src.locker != s.locker {
		src.rdlock()
		defer src.unlock()
	}

	return s.insertSeqUnlocked(index, src, copier)
}

func (s *Seq[T]) insertSeqUnlocked(index int, src *Seq[T], copier func(T) T) error {
	if index < 0 || index > s.length {
		return ErrBadArgument
	}

	err := copyCompat(s.destroy != nil, src, copier)
	if err != nil {
		return err
	}

	s.expand(index, src.length)
	for i := 0; i < src.length; i++ {
		if copier != nil {
			s.buf[index+i] = copier(src.buf[i])
		} else {
			s.buf[index+i] = src.buf[i]
		}
	}

	return nil
}

// ReplaceSeq replaces count elements starting at index with a copy of src's
// elements. The replaced elements are destroyed (when owned) before the
// incoming elements are validated; an ownership error therefore leaves the
// range removed. This is the documented destructors-are-irrevocable edge.
func (s *Seq[T]) ReplaceSeq(index int, count int, src *Seq[T], copier func(T) T) error {
	if src == nil {
		return ErrBadArgument
	}

	s.wrlock()
	defer s.unlock()

	if src != s && src.locker != s.locker {
		src.rdlock()
		defer src.unlock()
	}

	if index < 0 || count < 0 || index+count > s.length {
		return ErrBadArgument
	}

	err := s.removeRangeUnlocked(index, count)
	if err != nil {
		return err
	}

	return s.insertSeqUnlocked(index, src, copier)
}

// Extract copies count elements starting at index into a new sequence. The
// source is left unchanged. Ownership copy rules apply: an owning source
// requires a copier and yields an owning result, a non-owning source
// requires a nil copier and the elements are shared.
func (s *Seq[T]) Extract(index int, count int, copier func(T) T) (*Seq[T], error) {
	return s.ExtractWithLocker(nil, index, count, copier)
}

// ExtractWithLocker is Extract with a locker attached to the new sequence.
func (s *Seq[T]) ExtractWithLocker(locker Locker, index int, count int, copier func(T) T) (*Seq[T], error) {
	s.rdlock()
	defer s.unlock()

	return s.extractUnlocked(locker, index, count, copier)
}

func (s *Seq[T]) extractUnlocked(locker Locker, index int, count int, copier func(T) T) (*Seq[T], error) {
	if index < 0 || count < 0 || index+count > s.length {
		return nil, ErrBadArgument
	}

	if (s.destroy != nil) != (copier != nil) {
		return nil, ErrOwnership
	}

	out := NewWithLocker[T](locker, s.destroy)
	out.grow(count)
	for i := 0; i < count; i++ {
		if copier != nil {
			out.buf[i] = copier(s.buf[index+i])
		} else {
			out.buf[i] = s.buf[index+i]
		}
	}

	out.length = count
	return out, nil
}

// Splice removes count elements starting at index and returns them as a new
// sequence. With an owning source the copier produces the returned
// elements and the originals are destroyed by the removal.
func (s *Seq[T]) Splice(index int, count int, copier func(T) T) (*Seq[T], error) {
	return s.SpliceWithLocker(nil, index, count, copier)
}

// SpliceWithLocker is Splice with a locker attached to the new sequence.
func (s *Seq[T]) SpliceWithLocker(locker Locker, index int, count int, copier func(T) T) (*Seq[T], error) {
	s.wrlock()
	defer s.unlock()

	out, err := s.extractUnlocked(locker, index, count, copier)
	if err != nil {
		return nil, err
	}

	err = s.removeRangeUnlocked(index, count)
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Push adds an element at the end of the sequence.
func (s *Seq[T]) Push(item T) error {
	return s.Append(item)
}

// Pop removes and returns the last element. The element is handed to the
// caller undestroyed even when the sequence owns its elements.
func (s *Seq[T]) Pop() (T, error) {
	s.wrlock()
	defer s.unlock()

	return s.takeUnlocked(s.length - 1)
}

// Shift removes and returns the first element. The element is handed to the
// caller undestroyed even when the sequence owns its elements.
func (s *Seq[T]) Shift() (T, error) {
	s.wrlock()
	defer s.unlock()

	return s.takeUnlocked(0)
}

// Unshift adds an element at the start of the sequence.
func (s *Seq[T]) Unshift(item T) error {
	return s.Prepend(item)
}

// takeUnlocked removes the element at index without destroying it.
func (s *Seq[T]) takeUnlocked(index int) (T, error) {
	var zero T
	if index < 0 || index >= s.length {
		return zero, ErrBadArgument
	}

	item := s.buf[index]
	s.contract(index, 1)
	return item, nil
}

// Sort sorts the sequence in place using the given comparator.
func (s *Seq[T]) Sort(cmp func(a T, b T) int) error {
	if cmp == nil {
		return ErrBadArgument
	}

	s.wrlock()
	defer s.unlock()

	slices.SortFunc(s.buf[:s.length], cmp)
	return nil
}

// Apply invokes fn once per element, in order, with the sequence write
// locked for the duration.
func (s *Seq[T]) Apply(fn func(index int, item T)) error {
	if fn == nil {
		return ErrBadArgument
	}

	s.wrlock()
	defer s.unlock()

	for i := 0; i < s.length; i++ {
		fn(i, s.buf[i])
	}

	return nil
}

// Grep returns a new non-owning sequence holding the elements for which
// pred returns true. The elements are shared with the source, so the
// result must not outlive mutation of an owning source.
func (s *Seq[T]) Grep(pred func(item T) bool) (*Seq[T], error) {
	if pred == nil {
		return nil, ErrBadArgument
	}

	s.rdlock()
	defer s.unlock()

	out := New[T](nil)
	for i := 0; i < s.length; i++ {
		if pred(s.buf[i]) {
			err := out.insertUnlocked(out.length, s.buf[i])
			if err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

// Query performs a linear search starting at *index and returns the index
// of the first element for which pred returns true, or -1. On a match
// *index is set to the match's index, so a caller that increments it before
// the next call resumes after the previous match.
func (s *Seq[T]) Query(index *int, pred func(item T) bool) (int, error) {
	if index == nil || pred == nil {
		return -1, ErrBadArgument
	}

	s.rdlock()
	defer s.unlock()

	if *index < 0 || *index >= s.length {
		return -1, ErrBadArgument
	}

	for i := *index; i < s.length; i++ {
		if pred(s.buf[i]) {
			*index = i
			return i, nil
		}
	}

	return -1, nil
}

// Map produces a new sequence by applying fn to every element of src. The
// new sequence owns its elements when destroy is non-nil.
func Map[T any, U any](src *Seq[T], destroy func(U), fn func(item T) U) (*Seq[U], error) {
	if src == nil || fn == nil {
		return nil, ErrBadArgument
	}

	src.rdlock()
	defer src.unlock()

	out := New[U](destroy)
	out.grow(src.length)
	for i := 0; i < src.length; i++ {
		out.buf[i] = fn(src.buf[i])
	}

	out.length = src.length
	return out, nil
}
