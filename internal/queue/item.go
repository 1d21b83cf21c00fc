package queue

import (
	"net"
	"sync"
)

// Item is a unit of work posted to a Mailbox by a connection pump.
type Item struct {
	Conn   net.Conn // set when asking the consumer to take over a new connection
	ConnID int
	Gen    uint64 // generation of the connection slot, to spot stale items
	Data   []byte
	Err    error

	next *Item
}

// Next returns the item that was added after i.
func (i *Item) Next() *Item {
	return i.next
}

var pool = sync.Pool{}

func GetItem() (i *Item) {
	if pi := pool.Get(); pi == nil {
		i = new(Item)
	} else {
		i = pi.(*Item)
	}

	return i
}

func ReturnItem(i *Item) {
	*i = Item{}
	pool.Put(i)
}
