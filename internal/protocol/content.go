package protocol

import (
	"encoding/json"
	"fmt"
	"math"
)

// DataContent is the legacy data header: one block holding every channel,
// channel-major with stride NSamples.
type DataContent struct {
	NChannels    uint32  `json:"n_channels"`
	NSamples     uint32  `json:"n_samples"`
	NRealSamples uint32  `json:"n_real_samples"`
	SampleRate   float64 `json:"sample_rate"`
	Timestamp    uint64  `json:"timestamp"`
}

func (d DataContent) Validate() error {
	if d.NChannels == 0 || d.NSamples == 0 {
		return fmt.Errorf("%w: data block needs n_channels and n_samples", ErrParse)
	}
	if d.NRealSamples > d.NSamples {
		return fmt.Errorf("%w: n_real_samples %d exceeds n_samples %d", ErrParse, d.NRealSamples, d.NSamples)
	}
	return nil
}

// PayloadSize is the number of payload bytes the block layout requires.
func (d DataContent) PayloadSize() int {
	return int(d.NChannels) * int(d.NSamples) * 4
}

// StreamDataContent is the stream revision data header: one channel per message.
type StreamDataContent struct {
	Stream     string  `json:"stream"`
	ChannelNum uint32  `json:"channel_num"`
	NumSamples uint32  `json:"num_samples"`
	SampleNum  int64   `json:"sample_num"`
	SampleRate float64 `json:"sample_rate"`
}

func (d StreamDataContent) Validate() error {
	if d.SampleRate < 0 || math.IsNaN(d.SampleRate) {
		return fmt.Errorf("%w: invalid sample_rate", ErrParse)
	}
	return nil
}

// EventContent covers both revisions. Legacy senders fill EventID,
// EventChannel and Timestamp; stream senders fill Stream and SourceNode.
type EventContent struct {
	Type         EventType `json:"type"`
	SampleNum    int64     `json:"sample_num"`
	EventID      int32     `json:"event_id,omitempty"`
	EventChannel int32     `json:"event_channel,omitempty"`
	Timestamp    int64     `json:"timestamp,omitempty"`
	Stream       string    `json:"stream,omitempty"`
	SourceNode   int32     `json:"source_node,omitempty"`
}

func (e EventContent) Validate() error { return nil }

// SpikeContent describes one spike snapshot; the waveform travels as payload.
type SpikeContent struct {
	Stream      string    `json:"stream,omitempty"`
	SourceNode  int32     `json:"source_node,omitempty"`
	Electrode   string    `json:"electrode"`
	SampleNum   int64     `json:"sample_num"`
	NumChannels uint32    `json:"num_channels"`
	NumSamples  uint32    `json:"num_samples"`
	SortedID    int32     `json:"sorted_id"`
	Threshold   []float32 `json:"threshold,omitempty"`
}

func (s SpikeContent) Validate() error {
	if s.NumChannels == 0 {
		return fmt.Errorf("%w: spike without channels", ErrParse)
	}
	if len(s.Threshold) != 0 && len(s.Threshold) != int(s.NumChannels) {
		return fmt.Errorf("%w: %d thresholds for %d channels", ErrParse, len(s.Threshold), s.NumChannels)
	}
	return nil
}

// ParamContent maps parameter names to their JSON values.
type ParamContent map[string]json.RawMessage

// Float reads a numeric parameter.
func (p ParamContent) Float(name string) (float64, bool) {
	raw, ok := p[name]
	if !ok {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

// Text reads a string parameter.
func (p ParamContent) Text(name string) (string, bool) {
	raw, ok := p[name]
	if !ok {
		return "", false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return v, true
}

type validator interface{ Validate() error }

var requiredFields = map[string][]string{
	"data":        {"n_channels", "n_samples", "n_real_samples", "sample_rate", "timestamp"},
	"stream_data": {"channel_num", "num_samples", "sample_num", "sample_rate"},
	"event":       {"type", "sample_num"},
	"spike":       {"electrode", "sample_num", "num_channels", "num_samples"},
}

// decodeContent unmarshals raw into dst after checking the schema's
// required keys, then runs dst's own validation.
func decodeContent(schema string, raw json.RawMessage, dst validator) error {
	if names := requiredFields[schema]; len(names) > 0 {
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(raw, &keys); err != nil {
			return fmt.Errorf("%w: %s content: %v", ErrParse, schema, err)
		}
		for _, name := range names {
			if _, ok := keys[name]; !ok {
				return fmt.Errorf("%w: %s content missing %q", ErrParse, schema, name)
			}
		}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %s content: %v", ErrParse, schema, err)
	}
	return dst.Validate()
}

func encodeContent(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
