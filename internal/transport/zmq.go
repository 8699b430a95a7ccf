package transport

import (
	"fmt"
	"sync"
	"sync/atomic"

	zmq "github.com/pebbe/zmq4"

	"github.com/hongjun500/neurostream/pkg/logger"
)

// Socket is a ZeroMQ endpoint speaking multi-frame messages.
type Socket struct {
	role     Role
	endpoint string
	bound    bool
	opts     options

	sock   *zmq.Socket
	poller *zmq.Poller

	closeOnce sync.Once
	closed    atomic.Bool
}

var _ FrameConn = (*Socket)(nil)

// Connect opens role on tcp://address:port.
func Connect(role Role, address string, port int, opts ...Option) (*Socket, error) {
	return Open(role, Endpoint(address, port), opts...)
}

// Open opens role on any ZeroMQ endpoint (tcp://, ipc://, inproc://).
// Failures are logged and returned as ErrConnect.
func Open(role Role, endpoint string, opts ...Option) (*Socket, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	bind := role.Binds()
	if o.bind != nil {
		bind = *o.bind
	}

	sock, err := newZmqSocket(role, o)
	if err != nil {
		logger.L().Sugar().Warnw("transport_socket_failed", "role", role, "endpoint", endpoint, "err", err)
		return nil, ErrConnect.with(endpoint, err)
	}
	if bind {
		err = sock.Bind(endpoint)
	} else {
		err = sock.Connect(endpoint)
	}
	if err != nil {
		_ = sock.Close()
		logger.L().Sugar().Warnw("transport_connect_failed", "role", role, "endpoint", endpoint, "bind", bind, "err", err)
		return nil, ErrConnect.with(endpoint, err)
	}

	poller := zmq.NewPoller()
	poller.Add(sock, zmq.POLLIN)
	logger.L().Sugar().Infow("transport_open", "role", role, "endpoint", endpoint, "bind", bind)
	return &Socket{
		role:     role,
		endpoint: endpoint,
		bound:    bind,
		opts:     o,
		sock:     sock,
		poller:   poller,
	}, nil
}

func newZmqSocket(role Role, o options) (*zmq.Socket, error) {
	var t zmq.Type
	switch role {
	case Pub:
		t = zmq.PUB
	case Sub:
		t = zmq.SUB
	case Req:
		t = zmq.REQ
	case Rep:
		t = zmq.REP
	default:
		return nil, fmt.Errorf("unknown role %v", role)
	}
	sock, err := zmq.NewSocket(t)
	if err != nil {
		return nil, err
	}
	setup := []func() error{
		func() error { return sock.SetLinger(o.linger) },
	}
	if role == Sub {
		setup = append(setup, func() error { return sock.SetSubscribe("") })
	}
	if o.sendHWM > 0 {
		setup = append(setup, func() error { return sock.SetSndhwm(o.sendHWM) })
	}
	if o.recvHWM > 0 {
		setup = append(setup, func() error { return sock.SetRcvhwm(o.recvHWM) })
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			_ = sock.Close()
			return nil, err
		}
	}
	return sock, nil
}

func (s *Socket) Role() Role       { return s.role }
func (s *Socket) Endpoint() string { return s.endpoint }
func (s *Socket) Bound() bool      { return s.bound }

// ReceiveFrames waits up to the poll timeout for a message, then reads parts
// until the socket reports no more belong to it.
func (s *Socket) ReceiveFrames() ([][]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	polled, err := s.poller.Poll(s.opts.pollTimeout)
	if err != nil {
		if s.closed.Load() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("transport: poll %s: %w", s.endpoint, err)
	}
	if len(polled) == 0 {
		return nil, ErrNoMessage
	}

	var frames [][]byte
	for {
		part, err := s.sock.RecvBytes(0)
		if err != nil {
			return nil, fmt.Errorf("transport: receive %s: %w", s.endpoint, err)
		}
		frames = append(frames, part)
		more, err := s.sock.GetRcvmore()
		if err != nil {
			return nil, fmt.Errorf("transport: receive %s: %w", s.endpoint, err)
		}
		if !more {
			return frames, nil
		}
	}
}

// SendFrames flags every frame but the last with SNDMORE.
func (s *Socket) SendFrames(frames [][]byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(frames) == 0 {
		return ErrEmptySend
	}
	last := len(frames) - 1
	for i, f := range frames {
		var flag zmq.Flag
		if i < last {
			flag = zmq.SNDMORE
		}
		if _, err := s.sock.SendBytes(f, flag); err != nil {
			return fmt.Errorf("transport: send %s frame %d: %w", s.endpoint, i, err)
		}
	}
	return nil
}

// Close releases the endpoint. Calling it again is a no-op.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.sock.Close()
		logger.L().Sugar().Debugw("transport_close", "role", s.role, "endpoint", s.endpoint)
	})
	return err
}
