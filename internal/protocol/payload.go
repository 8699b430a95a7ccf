package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeFloat32 packs samples little-endian, four bytes each.
func EncodeFloat32(samples []float32) []byte {
	out := make([]byte, 4*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func DecodeFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("float32 payload of %d bytes is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = Float32At(b, i)
	}
	return out, nil
}

// Float32At reads the i-th float of a payload without bounds checks beyond
// the slice's own.
func Float32At(b []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
}

// EventType is the numeric kind of an event.
type EventType uint8

const (
	EventTimestamp EventType = iota
	EventBufferSize
	EventParameterChange
	EventTTL
	EventSpike
	EventText
	EventBinaryMsg
)

var eventTypeNames = [...]string{
	EventTimestamp:       "TIMESTAMP",
	EventBufferSize:      "BUFFER_SIZE",
	EventParameterChange: "PARAMETER_CHANGE",
	EventTTL:             "TTL",
	EventSpike:           "SPIKE",
	EventText:            "MESSAGE",
	EventBinaryMsg:       "BINARY_MSG",
}

func (t EventType) String() string {
	if int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return fmt.Sprintf("EVENT_%d", uint8(t))
}

// TTLWord is the payload of a TTL event: line, state, then the full word.
type TTLWord struct {
	Line  uint8
	State bool
	Word  uint64
}

const ttlPayloadSize = 10

func DecodeTTL(b []byte) (TTLWord, error) {
	if len(b) < ttlPayloadSize {
		return TTLWord{}, fmt.Errorf("ttl payload of %d bytes, want %d", len(b), ttlPayloadSize)
	}
	return TTLWord{
		Line:  b[0],
		State: b[1] != 0,
		Word:  binary.LittleEndian.Uint64(b[2:10]),
	}, nil
}

func (w TTLWord) Encode() []byte {
	out := make([]byte, ttlPayloadSize)
	out[0] = w.Line
	if w.State {
		out[1] = 1
	}
	binary.LittleEndian.PutUint64(out[2:], w.Word)
	return out
}

// DecodeTimestampEvent reads the int64 carried by a TIMESTAMP event.
func DecodeTimestampEvent(b []byte) (int64, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("timestamp payload of %d bytes, want 8", len(b))
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}
