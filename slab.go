package pollbroke

import (
	"container/heap"
	"errors"
)

var ErrTooManyConnections = errors.New("too many connections")

// slab is a dense table keyed by small reusable ids.
// Insertion takes the lowest free id.
type slab[T comparable] struct {
	entries  []T
	used     []bool
	free     freeIDs
	n        int
	capacity int
}

func newSlab[T comparable](capacity int) *slab[T] {
	return &slab[T]{
		entries:  make([]T, 0, min(capacity, 64)),
		used:     make([]bool, 0, min(capacity, 64)),
		capacity: capacity,
	}
}

func (s *slab[T]) insert(v T) (int, error) {
	if s.n == s.capacity {
		return 0, ErrTooManyConnections
	}

	var id int
	if len(s.free) > 0 {
		id = heap.Pop(&s.free).(int)
		s.entries[id], s.used[id] = v, true
	} else {
		id = len(s.entries)
		s.entries, s.used = append(s.entries, v), append(s.used, true)
	}

	s.n++
	return id, nil
}

func (s *slab[T]) get(id int) (T, bool) {
	if id < 0 || id >= len(s.entries) || !s.used[id] {
		var zero T
		return zero, false
	}
	return s.entries[id], true
}

func (s *slab[T]) remove(id int) (T, bool) {
	v, ok := s.get(id)
	if !ok {
		return v, false
	}

	var zero T
	s.entries[id], s.used[id] = zero, false
	heap.Push(&s.free, id)
	s.n--
	return v, true
}

func (s *slab[T]) len() int {
	return s.n
}

func (s *slab[T]) each(f func(id int, v T)) {
	for id, v := range s.entries {
		if s.used[id] {
			f(id, v)
		}
	}
}

// freeIDs is a min-heap of released ids.
type freeIDs []int

func (h freeIDs) Len() int           { return len(h) }
func (h freeIDs) Less(i, j int) bool { return h[i] < h[j] }
func (h freeIDs) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *freeIDs) Push(x any)        { *h = append(*h, x.(int)) }
func (h *freeIDs) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
