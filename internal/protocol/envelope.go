package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Revision selects one of the two header layouts found on the wire.
// They are not interchangeable: a deployment picks one.
type Revision int

const (
	// RevisionStream sends one channel per data message and keys the
	// sequence number as "message_num".
	RevisionStream Revision = iota
	// RevisionLegacy sends a channel-major block of all channels per data
	// message and keys the sequence number as "message_no".
	RevisionLegacy
)

func (r Revision) String() string {
	if r == RevisionLegacy {
		return "legacy"
	}
	return "stream"
}

func ParseRevision(s string) (Revision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stream", "":
		return RevisionStream, nil
	case "legacy":
		return RevisionLegacy, nil
	default:
		return 0, fmt.Errorf("unknown protocol revision %q", s)
	}
}

// Envelope is the JSON header of one message.
type Envelope struct {
	MessageNo uint64
	Type      MessageType
	// Content is the type-specific JSON object, kept raw until Decode
	// picks its schema. It crosses the wire in compact form, so only
	// compact content survives an encode/decode round trip byte for byte.
	Content  json.RawMessage
	DataSize uint32
	// Timestamp is the sender wall clock in unix milliseconds. Only the
	// stream revision sends it; zero means absent.
	Timestamp int64
}

type wireEnvelope struct {
	MessageNo  *uint64         `json:"message_no,omitempty"`
	MessageNum *uint64         `json:"message_num,omitempty"`
	Type       string          `json:"type"`
	Content    json.RawMessage `json:"content,omitempty"`
	Spike      json.RawMessage `json:"spike,omitempty"`
	DataSize   uint32          `json:"data_size"`
	Timestamp  int64           `json:"timestamp,omitempty"`
}

// Codec encodes and decodes envelopes for one revision.
type Codec struct {
	Revision Revision
}

func NewCodec(r Revision) *Codec { return &Codec{Revision: r} }

// EncodeHeader serializes e. Content must be a JSON object; it may be empty
// only for param and heartbeat messages.
func (c *Codec) EncodeHeader(e Envelope) ([]byte, error) {
	if !e.Type.Valid() {
		return nil, fmt.Errorf("encode header: unknown type %q", e.Type)
	}
	if isNull(e.Content) {
		if needsContent(e.Type) {
			return nil, fmt.Errorf("encode header: %s message without content", e.Type)
		}
		e.Content = nil
	} else if !isObject(e.Content) {
		return nil, fmt.Errorf("encode header: content is not a JSON object")
	}
	n := e.MessageNo
	w := wireEnvelope{
		Type:      string(e.Type),
		DataSize:  e.DataSize,
		Timestamp: e.Timestamp,
	}
	if c.Revision == RevisionLegacy {
		w.MessageNo = &n
	} else {
		w.MessageNum = &n
	}
	if c.Revision == RevisionStream && e.Type == TypeSpike {
		w.Spike = e.Content
	} else {
		w.Content = e.Content
	}
	return json.Marshal(w)
}

// DecodeHeader parses a header frame. Either sequence key is accepted, and
// spike content may arrive under "spike" instead of "content".
func (c *Codec) DecodeHeader(b []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	t, err := ParseMessageType(w.Type)
	if err != nil {
		return Envelope{}, err
	}
	e := Envelope{Type: t, DataSize: w.DataSize, Timestamp: w.Timestamp}
	switch {
	case w.MessageNo != nil:
		e.MessageNo = *w.MessageNo
	case w.MessageNum != nil:
		e.MessageNo = *w.MessageNum
	case t != TypeHeartbeat:
		return Envelope{}, fmt.Errorf("%w: missing message number", ErrParse)
	}

	content := w.Content
	if isNull(content) {
		content = w.Spike
	}
	if isNull(content) {
		content = nil
	}
	if content != nil && !isObject(content) {
		return Envelope{}, fmt.Errorf("%w: content is not an object", ErrParse)
	}
	if content == nil && needsContent(t) {
		return Envelope{}, fmt.Errorf("%w: %s message without content", ErrParse, t)
	}
	if content != nil {
		var buf bytes.Buffer
		if err := json.Compact(&buf, content); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrParse, err)
		}
		content = buf.Bytes()
	}
	e.Content = content
	return e, nil
}

func needsContent(t MessageType) bool {
	return t == TypeData || t == TypeEvent || t == TypeSpike
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
