// Package transporttest provides an in-memory FrameConn pair for tests that
// should not open sockets.
package transporttest

import (
	"sync"
	"time"

	"github.com/hongjun500/neurostream/internal/transport"
)

// Conn is one end of a Pipe.
type Conn struct {
	in     <-chan [][]byte
	out    chan<- [][]byte
	closed chan struct{}
	peer   *Conn
	once   sync.Once

	// PollTimeout bounds ReceiveFrames; defaults to transport.DefaultPollTimeout.
	PollTimeout time.Duration

	mu   sync.Mutex
	sent int
}

var _ transport.FrameConn = (*Conn)(nil)

// Pipe returns two connected ends. Frames sent on one are received on the other.
func Pipe() (*Conn, *Conn) {
	ab := make(chan [][]byte, 256)
	ba := make(chan [][]byte, 256)
	a := &Conn{in: ba, out: ab, closed: make(chan struct{}), PollTimeout: transport.DefaultPollTimeout}
	b := &Conn{in: ab, out: ba, closed: make(chan struct{}), PollTimeout: transport.DefaultPollTimeout}
	a.peer, b.peer = b, a
	return a, b
}

func (c *Conn) ReceiveFrames() ([][]byte, error) {
	select {
	case <-c.closed:
		return nil, transport.ErrClosed
	default:
	}
	timer := time.NewTimer(c.PollTimeout)
	defer timer.Stop()
	select {
	case <-c.closed:
		return nil, transport.ErrClosed
	case frames := <-c.in:
		return frames, nil
	case <-timer.C:
		return nil, transport.ErrNoMessage
	}
}

func (c *Conn) SendFrames(frames [][]byte) error {
	if len(frames) == 0 {
		return transport.ErrEmptySend
	}
	select {
	case <-c.closed:
		return transport.ErrClosed
	case <-c.peer.closed:
		return transport.ErrClosed
	default:
	}
	cp := make([][]byte, len(frames))
	for i, f := range frames {
		cp[i] = append([]byte(nil), f...)
	}
	select {
	case <-c.closed:
		return transport.ErrClosed
	case <-c.peer.closed:
		return transport.ErrClosed
	case c.out <- cp:
		c.mu.Lock()
		c.sent++
		c.mu.Unlock()
		return nil
	}
}

// Sent returns the number of messages sent from this end.
func (c *Conn) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
