package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hongjun500/neurostream/internal/observe"
	"github.com/hongjun500/neurostream/internal/protocol"
	"github.com/hongjun500/neurostream/internal/transport"
	"github.com/hongjun500/neurostream/pkg/logger"
)

// Record is what the poller forwards to the registry owner for each
// well-formed request.
type Record struct {
	Application string
	UUID        string
	Received    time.Time
	// Event is set for event requests.
	Event *protocol.EventDescriptor
}

// Poller answers heartbeat requests on a reply socket it owns. Each request
// gets exactly one reply before the next one is read.
type Poller struct {
	conn    transport.FrameConn
	mailbox *Mailbox[Record]
	now     func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewPoller(conn transport.FrameConn, mailbox *Mailbox[Record]) *Poller {
	return &Poller{conn: conn, mailbox: mailbox, now: time.Now}
}

// Start runs the poll loop on its own goroutine.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		if err := p.Run(ctx); err != nil {
			logger.L().Sugar().Errorw("heartbeat_poller_stopped", "err", err)
		}
	}()
}

// Stop cancels the loop and waits for it; the loop closes the socket on exit.
func (p *Poller) Stop() {
	p.once.Do(func() {
		if p.cancel == nil {
			_ = p.conn.Close()
			return
		}
		p.cancel()
		<-p.done
	})
}

// Run serves requests until ctx is done. It owns the connection and closes it.
func (p *Poller) Run(ctx context.Context) error {
	defer p.conn.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		frames, err := p.conn.ReceiveFrames()
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrNoMessage):
			continue
		case errors.Is(err, transport.ErrClosed):
			return nil
		default:
			return err
		}
		reply := p.Handle(frames)
		if err := p.conn.SendFrames([][]byte{[]byte(reply)}); err != nil {
			logger.L().Sugar().Warnw("heartbeat_reply_failed", "err", err)
		}
	}
}

// Handle parses one request, forwards it and returns the reply literal.
// Unreadable requests are answered but not forwarded.
func (p *Poller) Handle(frames [][]byte) string {
	if len(frames) == 0 {
		observe.IncHeartbeat("unreadable")
		return protocol.ReplyUnreadable
	}
	req, err := protocol.DecodeHeartbeat(frames[len(frames)-1])
	if err != nil {
		observe.IncHeartbeat("unreadable")
		logger.L().Sugar().Warnw("heartbeat_unreadable", "err", err)
		return protocol.ReplyUnreadable
	}
	p.mailbox.Push(Record{
		Application: req.Application,
		UUID:        req.UUID,
		Received:    p.now(),
		Event:       req.Event,
	})
	if req.IsEvent() {
		observe.IncHeartbeat("event")
	} else {
		observe.IncHeartbeat("heartbeat")
	}
	return req.Reply()
}
