package packet

import (
	"fmt"
	"strings"
)

// Queue is a FIFO of packets, optionally bounded by a packet count.
// A limit of zero means unbounded.
type Queue struct {
	items []*Packet
	limit int
	bytes int
}

// NewQueue creates a queue holding at most limit packets.
func NewQueue(limit int) *Queue {
	if limit < 0 {
		panic("NewQueue: limit must be non-negative")
	}
	return &Queue{limit: limit}
}

// Enqueue appends p. It returns false, leaving the queue untouched, when the queue is full.
func (q *Queue) Enqueue(p *Packet) bool {
	if p == nil {
		panic("Queue.Enqueue: p must not be nil")
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		return false
	}
	q.items = append(q.items, p)
	q.bytes += p.Ctrl.Common.Size
	return true
}

// PrependFront inserts p at the head, ignoring the bound.
// Used to put back a packet that did not fit the current transmission.
func (q *Queue) PrependFront(p *Packet) {
	if p == nil {
		panic("Queue.PrependFront: p must not be nil")
	}
	q.items = append([]*Packet{p}, q.items...)
	q.bytes += p.Ctrl.Common.Size
}

// Dequeue removes and returns the head, or nil when empty.
func (q *Queue) Dequeue() *Packet {
	if len(q.items) == 0 {
		return nil
	}
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.bytes -= p.Ctrl.Common.Size
	return p
}

// Peek returns the head without removing it, or nil when empty.
func (q *Queue) Peek() *Packet {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	return len(q.items)
}

// Bytes returns the sum of queued packet sizes.
func (q *Queue) Bytes() int {
	return q.bytes
}

// Limit returns the configured bound (0 = unbounded).
func (q *Queue) Limit() int {
	return q.limit
}

// Items returns the queue contents for iteration.
// Callers MUST NOT append to or reslice the returned slice.
func (q *Queue) Items() []*Packet {
	return q.items
}

// RemoveIf drops every packet for which fn returns true and returns how many were dropped.
func (q *Queue) RemoveIf(fn func(*Packet) bool) int {
	kept := q.items[:0]
	removed := 0
	for _, p := range q.items {
		if fn(p) {
			q.bytes -= p.Ctrl.Common.Size
			removed++
			continue
		}
		kept = append(kept, p)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	return removed
}

// Drain empties the queue and returns its former contents in order.
func (q *Queue) Drain() []*Packet {
	out := q.items
	q.items = nil
	q.bytes = 0
	return out
}

// Copy deep-copies the queue and every packet in it.
func (q *Queue) Copy() *Queue {
	out := &Queue{limit: q.limit, bytes: q.bytes, items: make([]*Packet, len(q.items))}
	for i, p := range q.items {
		out.items[i] = p.Copy()
	}
	return out
}

func (q *Queue) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, p := range q.items {
		sb.WriteString(fmt.Sprint(p))
		if i < len(q.items)-1 {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("]")
	return sb.String()
}
