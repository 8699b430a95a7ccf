package stream

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hongjun500/neurostream/internal/protocol"
)

var (
	// ErrInsufficientData is returned by drains asking for more than is buffered.
	ErrInsufficientData = errors.New("stream: not enough buffered data")
	ErrUnknownChannel   = errors.New("stream: channel not tracked")
	// ErrLayout rejects a data block whose shape does not match the payload
	// or the tracked channel set.
	ErrLayout = errors.New("stream: data block does not match channel layout")
)

// Samples is a drained run of one channel with its synthesized timestamps.
type Samples struct {
	Values     []float32
	Timestamps []uint64
}

type channelBuffer struct {
	values     []float32
	timestamps []uint64
}

// ChannelBufferStore reconstructs per-channel sample buffers from data
// messages. One goroutine ingests; any number may drain.
type ChannelBufferStore struct {
	mu       sync.Mutex
	lazy     bool
	layout   uint32 // n_channels the lazy set was derived from (legacy blocks)
	channels map[uint32]*channelBuffer
}

// NewChannelBufferStore tracks the given channels. With no channels the set
// is derived from the first data message: 0..n_channels-1 for legacy
// blocks, or every channel that arrives for the stream revision.
func NewChannelBufferStore(channels ...int) *ChannelBufferStore {
	s := &ChannelBufferStore{channels: make(map[uint32]*channelBuffer)}
	if len(channels) == 0 {
		s.lazy = true
		return s
	}
	for _, c := range channels {
		if c >= 0 {
			s.channels[uint32(c)] = &channelBuffer{}
		}
	}
	return s
}

// Ingest appends one data message. Blocks that cannot be sliced for every
// tracked channel are rejected whole with ErrLayout.
func (s *ChannelBufferStore) Ingest(m *protocol.DataMessage) error {
	switch {
	case m.Block != nil:
		return s.ingestBlock(m.Block, m.Payload)
	case m.Stream != nil:
		return s.ingestChannel(m.Stream, m.Payload)
	default:
		return fmt.Errorf("%w: data message without content", ErrLayout)
	}
}

func (s *ChannelBufferStore) ingestBlock(h *protocol.DataContent, payload []byte) error {
	if len(payload) != h.PayloadSize() {
		return fmt.Errorf("%w: %d channels x %d samples needs %d bytes, got %d",
			ErrLayout, h.NChannels, h.NSamples, h.PayloadSize(), len(payload))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lazy && len(s.channels) == 0 {
		for c := uint32(0); c < h.NChannels; c++ {
			s.channels[c] = &channelBuffer{}
		}
		s.layout = h.NChannels
	}
	if s.lazy && h.NChannels != s.layout {
		return fmt.Errorf("%w: block has %d channels, store derived %d", ErrLayout, h.NChannels, s.layout)
	}
	for c := range s.channels {
		if c >= h.NChannels {
			return fmt.Errorf("%w: channel %d not in a %d channel block", ErrLayout, c, h.NChannels)
		}
	}

	stamps := synthesize(h.Timestamp, h.NRealSamples)
	for c, buf := range s.channels {
		start := int(h.NSamples) * int(c)
		for i := 0; i < int(h.NRealSamples); i++ {
			buf.values = append(buf.values, protocol.Float32At(payload, start+i))
		}
		buf.timestamps = append(buf.timestamps, stamps...)
	}
	return nil
}

func (s *ChannelBufferStore) ingestChannel(h *protocol.StreamDataContent, payload []byte) error {
	if len(payload) != int(h.NumSamples)*4 {
		return fmt.Errorf("%w: %d samples needs %d bytes, got %d", ErrLayout, h.NumSamples, h.NumSamples*4, len(payload))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.channels[h.ChannelNum]
	if !ok {
		if !s.lazy {
			return nil
		}
		buf = &channelBuffer{}
		s.channels[h.ChannelNum] = buf
	}
	var start uint64
	if h.SampleNum > 0 {
		start = uint64(h.SampleNum)
	}
	for i := 0; i < int(h.NumSamples); i++ {
		buf.values = append(buf.values, protocol.Float32At(payload, i))
	}
	buf.timestamps = append(buf.timestamps, synthesize(start, h.NumSamples)...)
	return nil
}

// synthesize yields n consecutive sample indices starting at first+1.
func synthesize(first uint64, n uint32) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = first + uint64(i) + 1
	}
	return out
}

// Drain pops n samples from the front of channel. It fails without
// touching the buffer when fewer than n are available.
func (s *ChannelBufferStore) Drain(channel int, n int) (Samples, error) {
	if n < 0 {
		return Samples{}, fmt.Errorf("stream: negative drain count %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.lookup(channel)
	if !ok {
		return Samples{}, fmt.Errorf("%w: %d", ErrUnknownChannel, channel)
	}
	if len(buf.values) < n {
		return Samples{}, fmt.Errorf("%w: channel %d has %d samples, want %d", ErrInsufficientData, channel, len(buf.values), n)
	}
	out := Samples{
		Values:     append([]float32(nil), buf.values[:n]...),
		Timestamps: append([]uint64(nil), buf.timestamps[:n]...),
	}
	buf.values = buf.values[n:]
	buf.timestamps = buf.timestamps[n:]
	if len(buf.values) == 0 {
		buf.values, buf.timestamps = nil, nil
	}
	return out, nil
}

// Len returns how many samples channel holds; zero for untracked channels.
func (s *ChannelBufferStore) Len(channel int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if buf, ok := s.lookup(channel); ok {
		return len(buf.values)
	}
	return 0
}

// Channels lists the tracked channels in ascending order.
func (s *ChannelBufferStore) Channels() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.channels))
	for c := range s.channels {
		out = append(out, int(c))
	}
	sort.Ints(out)
	return out
}

func (s *ChannelBufferStore) lookup(channel int) (*channelBuffer, bool) {
	if channel < 0 {
		return nil, false
	}
	buf, ok := s.channels[uint32(channel)]
	return buf, ok
}
