package stream

import (
	"fmt"
	"sync"

	"github.com/hongjun500/neurostream/internal/protocol"
)

// EventRecord is one discrete event in arrival order.
type EventRecord struct {
	MessageNo    uint64
	Type         protocol.EventType
	SampleNum    int64
	EventID      int32
	EventChannel int32
	// Timestamp is the content timestamp, or the sender wall clock in
	// unix milliseconds when the content has none.
	Timestamp  int64
	Stream     string
	SourceNode int32
	Data       []byte
}

// TTL decodes Data as a TTL word.
func (e EventRecord) TTL() (protocol.TTLWord, error) { return protocol.DecodeTTL(e.Data) }

// SpikeRecord is one spike snapshot in arrival order.
type SpikeRecord struct {
	MessageNo   uint64
	Electrode   string
	SampleNum   int64
	NumChannels uint32
	NumSamples  uint32
	SortedID    int32
	Threshold   []float32
	Timestamp   int64
	Stream      string
	SourceNode  int32
	Data        []byte
}

// EventStore accumulates events and spikes. It shares the drain contract of
// ChannelBufferStore: all or nothing, front first.
type EventStore struct {
	mu     sync.Mutex
	events []EventRecord
	spikes []SpikeRecord
}

func NewEventStore() *EventStore { return &EventStore{} }

// Ingest records m when it is an event or a spike and reports whether it did.
func (s *EventStore) Ingest(m protocol.Message) bool {
	switch msg := m.(type) {
	case *protocol.EventMessage:
		ts := msg.Content.Timestamp
		if ts == 0 {
			ts = msg.Timestamp
		}
		rec := EventRecord{
			MessageNo:    msg.MessageNo,
			Type:         msg.Content.Type,
			SampleNum:    msg.Content.SampleNum,
			EventID:      msg.Content.EventID,
			EventChannel: msg.Content.EventChannel,
			Timestamp:    ts,
			Stream:       msg.Content.Stream,
			SourceNode:   msg.Content.SourceNode,
			Data:         append([]byte(nil), msg.Payload...),
		}
		s.mu.Lock()
		s.events = append(s.events, rec)
		s.mu.Unlock()
		return true
	case *protocol.SpikeMessage:
		rec := SpikeRecord{
			MessageNo:   msg.MessageNo,
			Electrode:   msg.Content.Electrode,
			SampleNum:   msg.Content.SampleNum,
			NumChannels: msg.Content.NumChannels,
			NumSamples:  msg.Content.NumSamples,
			SortedID:    msg.Content.SortedID,
			Threshold:   append([]float32(nil), msg.Content.Threshold...),
			Timestamp:   msg.Timestamp,
			Stream:      msg.Content.Stream,
			SourceNode:  msg.Content.SourceNode,
			Data:        append([]byte(nil), msg.Payload...),
		}
		s.mu.Lock()
		s.spikes = append(s.spikes, rec)
		s.mu.Unlock()
		return true
	default:
		return false
	}
}

func (s *EventStore) DrainEvents(n int) ([]EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, rest, err := drainFront(s.events, n, "events")
	if err != nil {
		return nil, err
	}
	s.events = rest
	return out, nil
}

func (s *EventStore) DrainSpikes(n int) ([]SpikeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, rest, err := drainFront(s.spikes, n, "spikes")
	if err != nil {
		return nil, err
	}
	s.spikes = rest
	return out, nil
}

func (s *EventStore) Len() (events, spikes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events), len(s.spikes)
}

func drainFront[T any](buf []T, n int, what string) (out, rest []T, err error) {
	if n < 0 {
		return nil, buf, fmt.Errorf("stream: negative drain count %d", n)
	}
	if len(buf) < n {
		return nil, buf, fmt.Errorf("%w: %d %s buffered, want %d", ErrInsufficientData, len(buf), what, n)
	}
	out = append([]T(nil), buf[:n]...)
	rest = buf[n:]
	if len(rest) == 0 {
		rest = nil
	}
	return out, rest, nil
}
