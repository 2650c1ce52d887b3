package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sized(n int) *Packet {
	return New(make([]byte, n), Common{})
}

func TestQueue_FIFOOrder(t *testing.T) {
	// GIVEN an unbounded queue with three packets
	q := NewQueue(0)
	a, b, c := sized(1), sized(2), sized(3)
	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)

	// WHEN dequeued
	// THEN they come out in insertion order and byte accounting follows
	assert.Equal(t, 6, q.Bytes())
	assert.Same(t, a, q.Dequeue())
	assert.Same(t, b, q.Peek())
	assert.Same(t, b, q.Dequeue())
	assert.Same(t, c, q.Dequeue())
	assert.Nil(t, q.Dequeue())
	assert.Equal(t, 0, q.Bytes())
}

func TestQueue_BoundRejectsWithoutMutation(t *testing.T) {
	// GIVEN a queue bounded at two packets and full
	q := NewQueue(2)
	assert.True(t, q.Enqueue(sized(1)))
	assert.True(t, q.Enqueue(sized(1)))

	// WHEN a third packet is offered
	ok := q.Enqueue(sized(5))

	// THEN it is refused and the queue is unchanged
	assert.False(t, ok)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 2, q.Bytes())
}

func TestQueue_PrependFrontIgnoresBound(t *testing.T) {
	// GIVEN a full bounded queue
	q := NewQueue(1)
	q.Enqueue(sized(1))
	head := sized(4)

	// WHEN a packet is put back at the head
	q.PrependFront(head)

	// THEN it is first in line
	assert.Equal(t, 2, q.Len())
	assert.Same(t, head, q.Peek())
}

func TestQueue_RemoveIfAndDrain(t *testing.T) {
	// GIVEN packets of sizes 1..4
	q := NewQueue(0)
	for i := 1; i <= 4; i++ {
		q.Enqueue(sized(i))
	}

	// WHEN even-sized packets are removed
	n := q.RemoveIf(func(p *Packet) bool { return p.Ctrl.Common.Size%2 == 0 })

	// THEN two are dropped and the rest keep their order
	assert.Equal(t, 2, n)
	assert.Equal(t, 4, q.Bytes())
	out := q.Drain()
	assert.Len(t, out, 2)
	assert.Equal(t, 1, out[0].Ctrl.Common.Size)
	assert.Equal(t, 3, out[1].Ctrl.Common.Size)
	assert.Equal(t, 0, q.Len())
}
