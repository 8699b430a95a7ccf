package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hongjun500/neurostream/internal/protocol"
	"github.com/hongjun500/neurostream/internal/transport"
	"github.com/hongjun500/neurostream/pkg/logger"
)

// ErrNoReply is returned when the host does not answer within ReconnectAfter.
var ErrNoReply = errors.New("registry: no reply to heartbeat")

// Dialer opens a fresh request socket.
type Dialer func() (transport.FrameConn, error)

type HeartbeatOptions struct {
	Application string
	// UUID identifies this client; a random one is generated when empty.
	UUID           string
	Interval       time.Duration // default 2s
	ReconnectAfter time.Duration // default 10s
}

// Heartbeat is the client side of the liveness exchange. A request socket
// that got no reply cannot send again, so after ReconnectAfter the socket
// is dropped and dialed anew on the next request.
//
// A Heartbeat is not safe for concurrent use.
type Heartbeat struct {
	dial Dialer
	conn transport.FrameConn
	opts HeartbeatOptions
}

func NewHeartbeat(dial Dialer, opts HeartbeatOptions) *Heartbeat {
	if opts.UUID == "" {
		opts.UUID = uuid.NewString()
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.ReconnectAfter <= 0 {
		opts.ReconnectAfter = 10 * time.Second
	}
	return &Heartbeat{dial: dial, opts: opts}
}

func (h *Heartbeat) UUID() string { return h.opts.UUID }

// Ping sends one heartbeat and returns the host's reply.
func (h *Heartbeat) Ping(ctx context.Context) (string, error) {
	return h.request(ctx, protocol.HeartbeatRequest{
		Application: h.opts.Application,
		UUID:        h.opts.UUID,
		Type:        protocol.RequestHeartbeat,
	})
}

// SendEvent forwards an event descriptor to the host.
func (h *Heartbeat) SendEvent(ctx context.Context, ev protocol.EventDescriptor) (string, error) {
	return h.request(ctx, protocol.HeartbeatRequest{
		Application: h.opts.Application,
		UUID:        h.opts.UUID,
		Type:        protocol.RequestEvent,
		Event:       &ev,
	})
}

func (h *Heartbeat) request(ctx context.Context, req protocol.HeartbeatRequest) (string, error) {
	body, err := protocol.EncodeHeartbeat(req)
	if err != nil {
		return "", err
	}
	if h.conn == nil {
		conn, err := h.dial()
		if err != nil {
			return "", fmt.Errorf("dial heartbeat: %w", err)
		}
		h.conn = conn
	}
	if err := h.conn.SendFrames([][]byte{body}); err != nil {
		h.reset()
		return "", err
	}

	deadline := time.Now().Add(h.opts.ReconnectAfter)
	for {
		if err := ctx.Err(); err != nil {
			h.reset()
			return "", err
		}
		frames, err := h.conn.ReceiveFrames()
		switch {
		case err == nil:
			if len(frames) == 0 {
				return "", nil
			}
			return string(frames[len(frames)-1]), nil
		case errors.Is(err, transport.ErrNoMessage):
			if time.Now().After(deadline) {
				h.reset()
				return "", ErrNoReply
			}
		default:
			h.reset()
			return "", err
		}
	}
}

func (h *Heartbeat) reset() {
	if h.conn != nil {
		_ = h.conn.Close()
		h.conn = nil
	}
}

// Run pings every Interval until ctx is done, reconnecting as needed.
func (h *Heartbeat) Run(ctx context.Context) {
	defer h.Close()
	ticker := time.NewTicker(h.opts.Interval)
	defer ticker.Stop()
	for {
		reply, err := h.Ping(ctx)
		switch {
		case err == nil:
			logger.L().Sugar().Debugw("heartbeat_reply", "uuid", h.opts.UUID, "reply", reply)
		case ctx.Err() != nil:
			return
		default:
			logger.L().Sugar().Warnw("heartbeat_failed", "uuid", h.opts.UUID, "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Heartbeat) Close() error {
	h.reset()
	return nil
}
