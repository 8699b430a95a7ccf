package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrParse marks a header that is malformed or fails schema validation.
	ErrParse = errors.New("protocol: header could not be parsed")
	// ErrShortFrame marks a message with fewer than two frames.
	ErrShortFrame = errors.New("protocol: message has fewer than 2 frames")
	// ErrMissingPayload marks a message whose payload is shorter than data_size.
	ErrMissingPayload = errors.New("protocol: payload shorter than data_size")
)

// MessageType is the envelope "type" tag.
type MessageType string

const (
	TypeData      MessageType = "data"
	TypeEvent     MessageType = "event"
	TypeSpike     MessageType = "spike"
	TypeHeartbeat MessageType = "heartbeat"
	TypeParam     MessageType = "param"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeData, TypeEvent, TypeSpike, TypeHeartbeat, TypeParam:
		return true
	}
	return false
}

func ParseMessageType(s string) (MessageType, error) {
	t := MessageType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown type %q", ErrParse, s)
	}
	return t, nil
}

// Tag is the ASCII routing frame preceding the header.
type Tag string

const (
	TagNone  Tag = ""
	TagData  Tag = "DATA"
	TagEvent Tag = "EVENT"
	TagParam Tag = "PARAM"
)

// TagFor returns the tag a publisher puts in front of a message type.
// Spikes travel under the event tag.
func TagFor(t MessageType) Tag {
	switch t {
	case TypeData:
		return TagData
	case TypeEvent, TypeSpike:
		return TagEvent
	case TypeParam:
		return TagParam
	default:
		return TagNone
	}
}

// ParseTag reads a tag frame, dropping the NUL terminator some senders append.
func ParseTag(frame []byte) Tag {
	return Tag(bytes.TrimRight(frame, "\x00"))
}
