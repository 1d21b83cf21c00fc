package queue

import "sync"

// Mailbox hands items from any goroutine to a single consumer that
// periodically collects everything pending with TakeAll.
type Mailbox struct {
	h, t *Item
	sync.Mutex

	notify func()
}

// Init sets the function called after every Add, usually to wake the consumer.
func (q *Mailbox) Init(notify func()) {
	q.notify = notify
}

func (q *Mailbox) Add(i *Item) {
	q.Lock()
	if q.h == nil {
		q.h = i
		q.t = i
	} else {
		q.t.next = i
		q.t = i
	}
	q.Unlock()

	if q.notify != nil {
		q.notify()
	}
}

// TakeAll detaches and returns all pending items in the order they were added.
// Walk the result with Item.Next.
func (q *Mailbox) TakeAll() *Item {
	q.Lock()
	h := q.h
	q.h, q.t = nil, nil
	q.Unlock()
	return h
}
