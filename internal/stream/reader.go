package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/hongjun500/neurostream/internal/observe"
	"github.com/hongjun500/neurostream/internal/protocol"
	"github.com/hongjun500/neurostream/internal/transport"
	"github.com/hongjun500/neurostream/pkg/logger"
)

// Stats summarizes a reader since construction.
type Stats struct {
	Counters
	Received  map[protocol.MessageType]uint64
	Discarded uint64
}

// Reader is the subscribe-side loop: it receives frame sets, decodes them
// and routes the result into the tracker and the stores.
type Reader struct {
	conn    transport.FrameConn
	codec   *protocol.Codec
	buffers *ChannelBufferStore
	events  *EventStore

	// OnMessage, when set, sees every decoded message after it was stored.
	// It runs on the receive loop.
	OnMessage func(protocol.Message)

	mu        sync.Mutex
	tracker   Tracker
	received  map[protocol.MessageType]uint64
	discarded uint64
	params    protocol.ParamContent
}

func NewReader(conn transport.FrameConn, codec *protocol.Codec, buffers *ChannelBufferStore, events *EventStore) *Reader {
	if buffers == nil {
		buffers = NewChannelBufferStore()
	}
	if events == nil {
		events = NewEventStore()
	}
	return &Reader{
		conn:     conn,
		codec:    codec,
		buffers:  buffers,
		events:   events,
		received: make(map[protocol.MessageType]uint64),
		params:   protocol.ParamContent{},
	}
}

func (r *Reader) Buffers() *ChannelBufferStore { return r.buffers }
func (r *Reader) Events() *EventStore          { return r.events }

// Run receives until ctx is done or the connection closes. Per-message
// failures are counted and logged, never returned.
func (r *Reader) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		frames, err := r.conn.ReceiveFrames()
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrNoMessage):
			continue
		case errors.Is(err, transport.ErrClosed):
			return nil
		default:
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		_ = r.HandleFrames(frames)
	}
}

// HandleFrames decodes one frame set and routes it. Every decoded message
// except heartbeats is sequenced, even when its content is then rejected.
func (r *Reader) HandleFrames(frames [][]byte) error {
	msg, err := r.codec.Decode(frames)
	if err != nil {
		r.discard(err)
		return err
	}
	hdr := msg.Header()
	if _, ok := msg.(*protocol.HeartbeatMessage); ok {
		// Heartbeats carry no sequence number.
		r.count(hdr.Type)
		r.notify(msg)
		return nil
	}
	r.sequence(hdr)

	switch m := msg.(type) {
	case *protocol.DataMessage:
		if err := r.buffers.Ingest(m); err != nil {
			r.discard(err)
			return err
		}
	case *protocol.EventMessage, *protocol.SpikeMessage:
		r.events.Ingest(m)
	case *protocol.ParamMessage:
		r.mu.Lock()
		for k, v := range m.Params {
			r.params[k] = v
		}
		r.mu.Unlock()
	}
	r.count(hdr.Type)
	r.notify(msg)
	return nil
}

func (r *Reader) sequence(hdr protocol.Envelope) {
	r.mu.Lock()
	report := r.tracker.Observe(hdr.MessageNo)
	r.mu.Unlock()

	observe.SetMissed(report.Missed)
	switch {
	case report.First:
		logger.L().Sugar().Infow("reader_first_packet", "message_no", hdr.MessageNo, "type", hdr.Type)
	case report.Gap != 0:
		logger.L().Sugar().Warnw("reader_packet_lost", "message_no", hdr.MessageNo, "gap", report.Gap, "missed", report.Missed)
	}
}

func (r *Reader) count(t protocol.MessageType) {
	r.mu.Lock()
	r.received[t]++
	r.mu.Unlock()
	observe.IncReceived(string(t))
}

func (r *Reader) notify(m protocol.Message) {
	if r.OnMessage != nil {
		r.OnMessage(m)
	}
}

func (r *Reader) discard(err error) {
	r.mu.Lock()
	r.discarded++
	r.mu.Unlock()

	reason := "parse"
	switch {
	case errors.Is(err, protocol.ErrShortFrame):
		// Short frame sets are dropped silently.
		observe.IncDiscarded("short_frame")
		return
	case errors.Is(err, protocol.ErrMissingPayload):
		reason = "payload"
	case errors.Is(err, ErrLayout):
		reason = "layout"
	}
	observe.IncDiscarded(reason)
	logger.L().Sugar().Warnw("reader_discard", "reason", reason, "err", err)
}

// Params returns the latest value of every parameter seen so far.
func (r *Reader) Params() protocol.ParamContent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(protocol.ParamContent, len(r.params))
	for k, v := range r.params {
		out[k] = v
	}
	return out
}

func (r *Reader) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	received := make(map[protocol.MessageType]uint64, len(r.received))
	for k, v := range r.received {
		received[k] = v
	}
	return Stats{Counters: r.tracker.Counters(), Received: received, Discarded: r.discarded}
}

// Close logs the final statistics and closes the connection.
func (r *Reader) Close() error {
	st := r.Stats()
	logger.L().Sugar().Infow("reader_statistics",
		"valid", st.Valid, "missed", st.Missed, "last_message_no", st.LastMessageNo,
		"discarded", st.Discarded, "received", st.Received)
	return r.conn.Close()
}
