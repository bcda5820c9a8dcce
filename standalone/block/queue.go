package block

import (
	"sync/atomic"
)

// Capacity is the number of block slots; must be a power of two
const Capacity = 16

const indexMask = Capacity - 1

// Queue is a single-producer single-consumer ring of blocks. Head and tail
// are free-running sequence numbers; head-tail is the live count and the
// slot of sequence n is n%Capacity.
//
// Reserve and Commit belong to the planner. Claim, Release and Discard
// belong to the step generator.
type Queue struct {
	blocks [Capacity]Block
	head   atomic.Uint32 // next sequence to commit
	tail   atomic.Uint32 // oldest unconsumed sequence
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{}
}

// Head returns the next sequence number to be committed
func (q *Queue) Head() uint32 {
	return q.head.Load()
}

// Tail returns the oldest unconsumed sequence number
func (q *Queue) Tail() uint32 {
	return q.tail.Load()
}

// Len returns the number of live blocks, including a busy one
func (q *Queue) Len() uint32 {
	return q.head.Load() - q.tail.Load()
}

// Free returns the number of slots available to Reserve
func (q *Queue) Free() uint32 {
	return Capacity - q.Len()
}

// Full reports whether Reserve would fail
func (q *Queue) Full() bool {
	return q.Len() >= Capacity
}

// Empty reports whether no block is queued
func (q *Queue) Empty() bool {
	return q.Len() == 0
}

// At returns the block holding sequence seq
func (q *Queue) At(seq uint32) *Block {
	return &q.blocks[seq&indexMask]
}

// Reserve returns the cleared slot at head, or nil when full. The block is
// invisible to the consumer until Commit.
func (q *Queue) Reserve() *Block {
	if q.Full() {
		return nil
	}
	b := q.At(q.head.Load())
	b.Reset()
	return b
}

// Commit publishes the reserved block at head
func (q *Queue) Commit() {
	q.head.Add(1)
}

// Claim marks the block at tail busy and returns it. It returns nil when
// the queue is empty or the tail block has no profile yet.
func (q *Queue) Claim() *Block {
	tail := q.tail.Load()
	if tail == q.head.Load() {
		return nil
	}
	b := q.At(tail)
	if !b.Has(FlagPlanned) {
		return nil
	}
	b.Set(FlagBusy)
	return b
}

// Current returns the busy block at tail, if any
func (q *Queue) Current() *Block {
	tail := q.tail.Load()
	if tail == q.head.Load() {
		return nil
	}
	b := q.At(tail)
	if !b.Busy() {
		return nil
	}
	return b
}

// Release frees the busy block at tail
func (q *Queue) Release() {
	tail := q.tail.Load()
	q.At(tail).Clear(FlagBusy)
	q.tail.Store(tail + 1)
}

// Discard drops every queued block, busy or not
func (q *Queue) Discard() {
	tail := q.tail.Load()
	head := q.head.Load()
	if tail != head {
		q.At(tail).Clear(FlagBusy)
	}
	q.tail.Store(head)
}
