package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is the closed set of decoded messages. The concrete type is
// fixed by the header's type tag when Decode runs; switch on it or use
// the As helpers.
type Message interface {
	Header() Envelope
	isMessage()
}

func (e Envelope) Header() Envelope { return e }

// DataMessage carries continuous samples. Exactly one of Block (legacy
// revision) or Stream (stream revision) is set.
type DataMessage struct {
	Envelope
	Block   *DataContent
	Stream  *StreamDataContent
	Payload []byte
}

type EventMessage struct {
	Envelope
	Content EventContent
	Payload []byte
}

type SpikeMessage struct {
	Envelope
	Content SpikeContent
	Payload []byte
}

type HeartbeatMessage struct {
	Envelope
	Request HeartbeatRequest
}

type ParamMessage struct {
	Envelope
	Params ParamContent
}

func (*DataMessage) isMessage()      {}
func (*EventMessage) isMessage()     {}
func (*SpikeMessage) isMessage()     {}
func (*HeartbeatMessage) isMessage() {}
func (*ParamMessage) isMessage()     {}

// Samples decodes the payload as little-endian float32 values.
func (m *DataMessage) Samples() ([]float32, error) { return DecodeFloat32(m.Payload) }

// Waveform decodes the spike payload as little-endian float32 values.
func (m *SpikeMessage) Waveform() ([]float32, error) { return DecodeFloat32(m.Payload) }

// AsData returns m as a data message; false means not applicable.
func AsData(m Message) (*DataMessage, bool) {
	d, ok := m.(*DataMessage)
	return d, ok
}

func AsEvent(m Message) (*EventMessage, bool) {
	e, ok := m.(*EventMessage)
	return e, ok
}

func AsSpike(m Message) (*SpikeMessage, bool) {
	s, ok := m.(*SpikeMessage)
	return s, ok
}

func AsHeartbeat(m Message) (*HeartbeatMessage, bool) {
	h, ok := m.(*HeartbeatMessage)
	return h, ok
}

func AsParam(m Message) (*ParamMessage, bool) {
	p, ok := m.(*ParamMessage)
	return p, ok
}

// Decode turns a received frame set into a typed message.
//
// Frame 0 is the tag, frame 1 the header, frame 2 the optional payload.
// The payload frame is only read when data_size is non-zero, except for
// spikes, whose senders omit data_size.
func (c *Codec) Decode(frames [][]byte) (Message, error) {
	if len(frames) < 2 {
		return nil, ErrShortFrame
	}
	env, err := c.DecodeHeader(frames[1])
	if err != nil {
		return nil, err
	}
	if tag := ParseTag(frames[0]); tag != TagNone && tag != TagFor(env.Type) {
		return nil, fmt.Errorf("%w: tag %q does not carry %s messages", ErrParse, tag, env.Type)
	}

	var payload []byte
	switch {
	case env.DataSize > 0:
		if len(frames) < 3 || len(frames[2]) < int(env.DataSize) {
			return nil, fmt.Errorf("%w: want %d bytes", ErrMissingPayload, env.DataSize)
		}
		payload = frames[2][:env.DataSize]
	case env.Type == TypeSpike && len(frames) > 2:
		payload = frames[2]
	}

	switch env.Type {
	case TypeData:
		m := &DataMessage{Envelope: env, Payload: payload}
		if c.Revision == RevisionLegacy {
			var dc DataContent
			if err := decodeContent("data", env.Content, &dc); err != nil {
				return nil, err
			}
			m.Block = &dc
		} else {
			var sc StreamDataContent
			if err := decodeContent("stream_data", env.Content, &sc); err != nil {
				return nil, err
			}
			m.Stream = &sc
		}
		return m, nil
	case TypeEvent:
		m := &EventMessage{Envelope: env, Payload: payload}
		if err := decodeContent("event", env.Content, &m.Content); err != nil {
			return nil, err
		}
		return m, nil
	case TypeSpike:
		m := &SpikeMessage{Envelope: env, Payload: payload}
		if err := decodeContent("spike", env.Content, &m.Content); err != nil {
			return nil, err
		}
		return m, nil
	case TypeParam:
		m := &ParamMessage{Envelope: env, Params: ParamContent{}}
		if env.Content != nil {
			if err := json.Unmarshal(env.Content, &m.Params); err != nil {
				return nil, fmt.Errorf("%w: param content: %v", ErrParse, err)
			}
		}
		return m, nil
	case TypeHeartbeat:
		req, err := DecodeHeartbeat(frames[1])
		if err != nil {
			return nil, err
		}
		return &HeartbeatMessage{Envelope: env, Request: req}, nil
	}
	return nil, fmt.Errorf("%w: unhandled type %q", ErrParse, env.Type)
}

// Encode builds the frame set for env and payload. The payload frame is
// appended only when it is non-empty, and data_size is set from it.
func (c *Codec) Encode(env Envelope, payload []byte) ([][]byte, error) {
	env.DataSize = uint32(len(payload))
	header, err := c.EncodeHeader(env)
	if err != nil {
		return nil, err
	}
	frames := [][]byte{[]byte(TagFor(env.Type)), header}
	if len(payload) > 0 {
		frames = append(frames, payload)
	}
	return frames, nil
}
