package transport

import "fmt"

// FrameConn moves ordered multi-frame messages. Implementations are owned by
// a single goroutine; they are not safe for concurrent use.
type FrameConn interface {
	// ReceiveFrames returns the next complete message, or ErrNoMessage when
	// nothing arrived within the poll timeout.
	ReceiveFrames() ([][]byte, error)
	// SendFrames emits frames in order as one message.
	SendFrames(frames [][]byte) error
	Close() error
}

// Role selects the socket pattern of an endpoint.
type Role int

const (
	Pub Role = iota
	Sub
	Req
	Rep
)

func (r Role) String() string {
	switch r {
	case Pub:
		return "pub"
	case Sub:
		return "sub"
	case Req:
		return "req"
	case Rep:
		return "rep"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Binds reports whether the role owns the endpoint. Publishers and reply
// sockets bind; subscribers and requesters connect.
func (r Role) Binds() bool { return r == Pub || r == Rep }

// Endpoint formats a TCP endpoint, e.g. tcp://localhost:5556.
func Endpoint(address string, port int) string {
	return fmt.Sprintf("tcp://%s:%d", address, port)
}
