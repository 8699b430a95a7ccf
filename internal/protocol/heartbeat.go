package protocol

import (
	"encoding/json"
	"fmt"
)

// Reply literals sent on the request/reply channel.
const (
	ReplyParsed     = "message correctly parsed"
	ReplyHeartbeat  = "heartbeat received"
	ReplyUnreadable = "JSON message could not be read"
)

const (
	RequestHeartbeat = "heartbeat"
	RequestEvent     = "event"
)

// EventDescriptor is the nested event a client may attach to a request.
type EventDescriptor struct {
	EventChannel int32     `json:"event_channel"`
	EventID      int32     `json:"event_id"`
	SampleNum    int64     `json:"sample_num"`
	Type         EventType `json:"type"`
}

// HeartbeatRequest is what a client sends to register or stay alive.
type HeartbeatRequest struct {
	Application string           `json:"application"`
	UUID        string           `json:"uuid"`
	Type        string           `json:"type"`
	Event       *EventDescriptor `json:"event,omitempty"`
}

func (r HeartbeatRequest) IsEvent() bool { return r.Type == RequestEvent }

// Reply is the literal acknowledging a well-formed request.
func (r HeartbeatRequest) Reply() string {
	if r.IsEvent() {
		return ReplyParsed
	}
	return ReplyHeartbeat
}

// DecodeHeartbeat parses a request. A missing type means heartbeat; an
// event request must carry its descriptor. The uuid is required.
func DecodeHeartbeat(b []byte) (HeartbeatRequest, error) {
	var r HeartbeatRequest
	if err := json.Unmarshal(b, &r); err != nil {
		return HeartbeatRequest{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if r.UUID == "" {
		return HeartbeatRequest{}, fmt.Errorf("%w: request without uuid", ErrParse)
	}
	switch r.Type {
	case "":
		r.Type = RequestHeartbeat
	case RequestHeartbeat:
	case RequestEvent:
		if r.Event == nil {
			return HeartbeatRequest{}, fmt.Errorf("%w: event request without event", ErrParse)
		}
	default:
		return HeartbeatRequest{}, fmt.Errorf("%w: unknown request type %q", ErrParse, r.Type)
	}
	return r, nil
}

func EncodeHeartbeat(r HeartbeatRequest) ([]byte, error) {
	if r.Type == "" {
		r.Type = RequestHeartbeat
	}
	return json.Marshal(r)
}
