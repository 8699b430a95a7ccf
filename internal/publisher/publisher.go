// Package publisher emits data, event, spike and parameter messages on a
// publish connection.
//
// Data layout depends on the protocol revision. RevisionStream sends one
// channel per message (SendData). RevisionLegacy sends every channel in a
// single channel-major block with a fixed stride (SendBlock).
package publisher

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hongjun500/neurostream/internal/observe"
	"github.com/hongjun500/neurostream/internal/protocol"
	"github.com/hongjun500/neurostream/internal/transport"
	"github.com/hongjun500/neurostream/pkg/logger"
)

// ErrRevision is returned when a send does not exist in the codec's revision.
var ErrRevision = errors.New("publisher: operation not available in this protocol revision")

type Publisher struct {
	conn       transport.FrameConn
	codec      *protocol.Codec
	stream     string
	sourceNode int32
	now        func() time.Time

	mu  sync.Mutex
	seq uint64
}

type Option func(*Publisher)

// WithStream names the stream and source node stamped on stream-revision content.
func WithStream(name string, sourceNode int32) Option {
	return func(p *Publisher) {
		p.stream = name
		p.sourceNode = sourceNode
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

func New(conn transport.FrameConn, codec *protocol.Codec, opts ...Option) *Publisher {
	p := &Publisher{conn: conn, codec: codec, now: time.Now}
	for _, fn := range opts {
		fn(p)
	}
	return p
}

// Reset restarts numbering; the next message is number 1.
func (p *Publisher) Reset() {
	p.mu.Lock()
	p.seq = 0
	p.mu.Unlock()
}

// Sent returns the last message number handed out.
func (p *Publisher) Sent() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

// SendData publishes one channel's samples (stream revision).
func (p *Publisher) SendData(channel uint32, sampleNum int64, sampleRate float64, samples []float32) error {
	if p.codec.Revision != protocol.RevisionStream {
		return ErrRevision
	}
	content := protocol.StreamDataContent{
		Stream:     p.stream,
		ChannelNum: channel,
		NumSamples: uint32(len(samples)),
		SampleNum:  sampleNum,
		SampleRate: sampleRate,
	}
	return p.send(protocol.TypeData, content, protocol.EncodeFloat32(samples))
}

// Block is one legacy data block. Every channel must hold the same number
// of samples; Stride pads each channel slice and defaults to that count.
type Block struct {
	Channels   [][]float32
	Stride     uint32
	SampleRate float64
	// Timestamp is the sample index preceding the block's first sample.
	Timestamp uint64
}

// SendBlock publishes all channels in one channel-major message (legacy revision).
func (p *Publisher) SendBlock(b Block) error {
	if p.codec.Revision != protocol.RevisionLegacy {
		return ErrRevision
	}
	if len(b.Channels) == 0 {
		return fmt.Errorf("publisher: empty block")
	}
	nReal := len(b.Channels[0])
	for c, ch := range b.Channels {
		if len(ch) != nReal {
			return fmt.Errorf("publisher: channel %d has %d samples, channel 0 has %d", c, len(ch), nReal)
		}
	}
	stride := int(b.Stride)
	if stride == 0 {
		stride = nReal
	}
	if stride == 0 || stride < nReal {
		return fmt.Errorf("publisher: stride %d cannot hold %d samples", stride, nReal)
	}

	flat := make([]float32, stride*len(b.Channels))
	for c, ch := range b.Channels {
		copy(flat[c*stride:], ch)
	}
	content := protocol.DataContent{
		NChannels:    uint32(len(b.Channels)),
		NSamples:     uint32(stride),
		NRealSamples: uint32(nReal),
		SampleRate:   b.SampleRate,
		Timestamp:    b.Timestamp,
	}
	return p.send(protocol.TypeData, content, protocol.EncodeFloat32(flat))
}

// SendEvent publishes an event; data may be empty.
func (p *Publisher) SendEvent(ev protocol.EventContent, data []byte) error {
	if p.codec.Revision == protocol.RevisionStream {
		if ev.Stream == "" {
			ev.Stream = p.stream
		}
		if ev.SourceNode == 0 {
			ev.SourceNode = p.sourceNode
		}
	}
	return p.send(protocol.TypeEvent, ev, data)
}

// SendTTL publishes a TTL line change.
func (p *Publisher) SendTTL(sampleNum int64, word protocol.TTLWord) error {
	return p.SendEvent(protocol.EventContent{Type: protocol.EventTTL, SampleNum: sampleNum, EventChannel: int32(word.Line)}, word.Encode())
}

// SendSpike publishes a spike snapshot with its waveform.
func (p *Publisher) SendSpike(sp protocol.SpikeContent, waveform []float32) error {
	if p.codec.Revision == protocol.RevisionStream {
		if sp.Stream == "" {
			sp.Stream = p.stream
		}
		if sp.SourceNode == 0 {
			sp.SourceNode = p.sourceNode
		}
	}
	if err := sp.Validate(); err != nil {
		return err
	}
	return p.send(protocol.TypeSpike, sp, protocol.EncodeFloat32(waveform))
}

// SendParam publishes parameter values by name.
func (p *Publisher) SendParam(params map[string]any) error {
	return p.send(protocol.TypeParam, params, nil)
}

func (p *Publisher) send(typ protocol.MessageType, content any, payload []byte) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("publisher: encode %s content: %w", typ, err)
	}
	if string(raw) == "null" {
		raw = nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	env := protocol.Envelope{MessageNo: p.seq + 1, Type: typ, Content: raw}
	if p.codec.Revision == protocol.RevisionStream {
		env.Timestamp = p.now().UnixMilli()
	}
	frames, err := p.codec.Encode(env, payload)
	if err != nil {
		return err
	}
	// A failed send still consumes its number, so readers see the gap.
	p.seq++
	if err := p.conn.SendFrames(frames); err != nil {
		observe.IncSendError()
		logger.L().Sugar().Warnw("publish_failed", "type", typ, "message_no", p.seq, "err", err)
		return err
	}
	observe.IncSent(string(typ))
	return nil
}
