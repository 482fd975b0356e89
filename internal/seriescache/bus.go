package seriescache

import (
	"sync"

	"marketlens/internal/domain"
)

// Event announces a freshly resolved series.
type Event struct {
	RecordID int                  `json:"recordId"`
	Interval domain.Interval      `json:"interval"`
	Data     []domain.SeriesPoint `json:"data"`
}

// allRecords marks a subscription to the global topic.
const allRecords = -1

type subscription struct {
	ch       chan Event
	recordID int
}

// bus fans events out to subscribers without ever blocking the publisher.
type bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]subscription
	closed bool
}

// Subscribe returns a channel receiving every resolved series. bufSize
// controls the channel buffer; slow consumers have events dropped.
func (c *Cache) Subscribe(bufSize int) (int, <-chan Event) {
	return c.bus.subscribe(allRecords, bufSize)
}

// SubscribeToItem returns a channel receiving resolved series of one record
// only.
func (c *Cache) SubscribeToItem(recordID int, bufSize int) (int, <-chan Event) {
	return c.bus.subscribe(recordID, bufSize)
}

// Unsubscribe removes a subscriber and closes its channel.
func (c *Cache) Unsubscribe(id int) {
	c.bus.unsubscribe(id)
}

func (b *bus) subscribe(recordID, bufSize int) (int, <-chan Event) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return -1, ch
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = subscription{ch: ch, recordID: recordID}
	return id, ch
}

func (b *bus) unsubscribe(id int) {
	b.mu.Lock()
	if s, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(s.ch)
	}
	b.mu.Unlock()
}

// publish sends e to every matching subscriber non-blocking (drop on full).
func (b *bus) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.recordID != allRecords && s.recordID != e.RecordID {
			continue
		}
		select {
		case s.ch <- e:
		default:
			// Slow consumer; drop.
		}
	}
}

func (b *bus) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *bus) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.ch)
	}
}
