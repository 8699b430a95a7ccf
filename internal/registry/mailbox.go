package registry

import (
	"sync/atomic"

	"github.com/hongjun500/neurostream/internal/observe"
)

// Mailbox is a bounded hand-off between one producer and one consumer.
// Push never blocks: when the mailbox is full the oldest unread item is
// dropped to make room.
type Mailbox[T any] struct {
	ch      chan T
	dropped atomic.Uint64
}

func NewMailbox[T any](size int) *Mailbox[T] {
	if size <= 0 {
		size = 64
	}
	return &Mailbox[T]{ch: make(chan T, size)}
}

// Push enqueues v and reports whether an older item was discarded for it.
func (m *Mailbox[T]) Push(v T) (dropped bool) {
	for {
		select {
		case m.ch <- v:
			return dropped
		default:
		}
		select {
		case <-m.ch:
			dropped = true
			m.dropped.Add(1)
			observe.IncMailboxDropped()
		default:
		}
	}
}

func (m *Mailbox[T]) TryPop() (T, bool) {
	select {
	case v := <-m.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Drain hands every queued item to fn and returns how many there were.
func (m *Mailbox[T]) Drain(fn func(T)) int {
	n := 0
	for {
		v, ok := m.TryPop()
		if !ok {
			return n
		}
		fn(v)
		n++
	}
}

func (m *Mailbox[T]) Len() int        { return len(m.ch) }
func (m *Mailbox[T]) Dropped() uint64 { return m.dropped.Load() }
