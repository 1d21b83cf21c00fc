package queue

import "errors"

// MaxRingCapacity is the largest capacity a Ring can be created with (2^31).
const MaxRingCapacity = 1 << 31

var (
	ErrInvalidCapacity = errors.New("ring capacity must be a power of two between 1 and 2^31")
	ErrFull            = errors.New("ring is full")
	ErrEmpty           = errors.New("ring is empty")
)

// Ring is a fixed capacity FIFO of T backed by a single array.
// The read and write cursors only ever increase (wrapping at 2^32), so
// len = write - read and the array index of a cursor is cursor & mask.
// Not safe for concurrent use.
type Ring[T any] struct {
	read, write uint32
	mask        uint32
	array       []T
}

// NewRing returns an empty Ring. capacity must be a power of two, so that
// indexing is a mask rather than a division.
func NewRing[T any](capacity int) (*Ring[T], error) {
	if capacity <= 0 || int64(capacity) > MaxRingCapacity || capacity&(capacity-1) != 0 {
		return nil, ErrInvalidCapacity
	}

	return &Ring[T]{
		mask:  uint32(capacity - 1),
		array: make([]T, capacity),
	}, nil
}

func (r *Ring[T]) Len() int {
	return int(r.write - r.read)
}

func (r *Ring[T]) Cap() int {
	return len(r.array)
}

// Free returns how many more items fit.
func (r *Ring[T]) Free() int {
	return len(r.array) - r.Len()
}

func (r *Ring[T]) Empty() bool {
	return r.read == r.write
}

func (r *Ring[T]) Full() bool {
	return r.Len() == len(r.array)
}

// Push appends v. Fails with ErrFull if there is no room.
func (r *Ring[T]) Push(v T) error {
	if r.Full() {
		return ErrFull
	}

	r.array[r.write&r.mask] = v
	r.write++
	return nil
}

// Peek returns the oldest item without removing it.
func (r *Ring[T]) Peek() (T, error) {
	if r.Empty() {
		var zero T
		return zero, ErrEmpty
	}

	return r.array[r.read&r.mask], nil
}

// Shift removes and returns the oldest item.
func (r *Ring[T]) Shift() (T, error) {
	if r.Empty() {
		var zero T
		return zero, ErrEmpty
	}

	i := r.read & r.mask
	v := r.array[i]
	var zero T
	r.array[i] = zero // don't hold on to references
	r.read++
	return v, nil
}

// PushSlice appends as many items of vs as fit and returns how many were taken.
func (r *Ring[T]) PushSlice(vs []T) int {
	n := min(len(vs), r.Free())
	for done := 0; done < n; {
		i := int(r.write & r.mask)
		c := copy(r.array[i:], vs[done:n])
		done += c
		r.write += uint32(c)
	}
	return n
}

// PeekInto copies the oldest items into dst without removing them and
// returns how many were copied.
func (r *Ring[T]) PeekInto(dst []T) int {
	n := min(len(dst), r.Len())
	cursor := r.read
	for done := 0; done < n; {
		i := int(cursor & r.mask)
		c := copy(dst[done:n], r.array[i:])
		done += c
		cursor += uint32(c)
	}
	return n
}

// ShiftInto moves the oldest items into dst and returns how many were moved.
func (r *Ring[T]) ShiftInto(dst []T) int {
	n := r.PeekInto(dst)
	r.Discard(n)
	return n
}

// Discard drops up to n of the oldest items and returns how many were dropped.
func (r *Ring[T]) Discard(n int) int {
	n = min(n, r.Len())
	var zero T
	for k := 0; k < n; k++ {
		r.array[(r.read+uint32(k))&r.mask] = zero
	}
	r.read += uint32(n)
	return n
}

// Reset empties the ring.
func (r *Ring[T]) Reset() {
	r.Discard(r.Len())
	r.read, r.write = 0, 0
}
