package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongjun500/neurostream/internal/protocol"
	"github.com/hongjun500/neurostream/internal/transport/transporttest"
)

func encode(t *testing.T, codec *protocol.Codec, no uint64, typ protocol.MessageType, content any, payload []byte) [][]byte {
	t.Helper()
	raw := mustJSON(t, content)
	fs, err := codec.Encode(protocol.Envelope{MessageNo: no, Type: typ, Content: raw}, payload)
	require.NoError(t, err)
	return fs
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestReaderRoutesMessages(t *testing.T) {
	codec := protocol.NewCodec(protocol.RevisionLegacy)
	r := NewReader(nil, codec, nil, nil)

	block := protocol.DataContent{NChannels: 2, NSamples: 4, NRealSamples: 4, SampleRate: 1000}
	require.NoError(t, r.HandleFrames(encode(t, codec, 1, protocol.TypeData, block,
		protocol.EncodeFloat32([]float32{1, 2, 3, 4, 5, 6, 7, 8}))))
	require.NoError(t, r.HandleFrames(encode(t, codec, 2, protocol.TypeEvent,
		protocol.EventContent{Type: protocol.EventTTL, SampleNum: 3}, []byte{1, 1, 0, 0, 0, 0, 0, 0, 0, 0})))
	require.NoError(t, r.HandleFrames(encode(t, codec, 3, protocol.TypeParam, map[string]any{"gain": 4}, nil)))
	// Messages 4 and 5 are lost.
	require.NoError(t, r.HandleFrames(encode(t, codec, 6, protocol.TypeSpike,
		protocol.SpikeContent{Electrode: "SE0", SampleNum: 9, NumChannels: 1, NumSamples: 1}, protocol.EncodeFloat32([]float32{-1}))))

	assert.Equal(t, 4, r.Buffers().Len(1))
	events, spikes := r.Events().Len()
	assert.Equal(t, 1, events)
	assert.Equal(t, 1, spikes)
	gain, ok := r.Params().Float("gain")
	assert.True(t, ok)
	assert.Equal(t, 4.0, gain)

	st := r.Stats()
	assert.Equal(t, uint64(4), st.Valid)
	assert.Equal(t, int64(6-3+1), st.Missed)
	assert.Equal(t, uint64(6), st.LastMessageNo)
	assert.Equal(t, uint64(1), st.Received[protocol.TypeData])
	assert.Zero(t, st.Discarded)
}

func TestReaderDiscards(t *testing.T) {
	codec := protocol.NewCodec(protocol.RevisionLegacy)
	r := NewReader(nil, codec, nil, nil)

	assert.ErrorIs(t, r.HandleFrames([][]byte{[]byte("DATA")}), protocol.ErrShortFrame)
	assert.ErrorIs(t, r.HandleFrames([][]byte{[]byte("DATA"), []byte("{oops")}), protocol.ErrParse)

	bad := protocol.DataContent{NChannels: 2, NSamples: 4, NRealSamples: 4}
	err := r.HandleFrames(encode(t, codec, 1, protocol.TypeData, bad, protocol.EncodeFloat32([]float32{1, 2})))
	assert.ErrorIs(t, err, ErrLayout)

	st := r.Stats()
	assert.Equal(t, uint64(3), st.Discarded)
	assert.Equal(t, uint64(1), st.Valid, "only the decoded block is sequenced")
	assert.Zero(t, st.Received[protocol.TypeData])
}

func TestReaderRejectedBlockIsNotLost(t *testing.T) {
	codec := protocol.NewCodec(protocol.RevisionLegacy)
	r := NewReader(nil, codec, NewChannelBufferStore(0, 3), nil)

	four := protocol.DataContent{NChannels: 4, NSamples: 1, NRealSamples: 1}
	two := protocol.DataContent{NChannels: 2, NSamples: 1, NRealSamples: 1}
	require.NoError(t, r.HandleFrames(encode(t, codec, 1, protocol.TypeData, four, protocol.EncodeFloat32([]float32{1, 2, 3, 4}))))
	assert.ErrorIs(t, r.HandleFrames(encode(t, codec, 2, protocol.TypeData, two, protocol.EncodeFloat32([]float32{5, 6}))), ErrLayout)
	require.NoError(t, r.HandleFrames(encode(t, codec, 3, protocol.TypeData, four, protocol.EncodeFloat32([]float32{7, 8, 9, 10}))))

	st := r.Stats()
	assert.Equal(t, uint64(3), st.Valid)
	assert.Zero(t, st.Missed)
	assert.Equal(t, uint64(3), st.LastMessageNo)
	assert.Equal(t, uint64(1), st.Discarded)
	assert.Equal(t, uint64(2), st.Received[protocol.TypeData])
	assert.Equal(t, 2, r.Buffers().Len(3))
}

func TestReaderRunOverPipe(t *testing.T) {
	codec := protocol.NewCodec(protocol.RevisionStream)
	pub, sub := transporttest.Pipe()
	sub.PollTimeout = 10 * time.Millisecond

	seen := make(chan protocol.Message, 4)
	r := NewReader(sub, codec, NewChannelBufferStore(), NewEventStore())
	r.OnMessage = func(m protocol.Message) { seen <- m }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	content := protocol.StreamDataContent{Stream: "s", ChannelNum: 0, NumSamples: 2, SampleNum: 10, SampleRate: 30000}
	require.NoError(t, pub.SendFrames(encode(t, codec, 1, protocol.TypeData, content, protocol.EncodeFloat32([]float32{1, 2}))))

	select {
	case m := <-seen:
		_, ok := protocol.AsData(m)
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not deliver the message")
	}
	got, err := r.Buffers().Drain(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{11, 12}, got.Timestamps)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop")
	}
	require.NoError(t, r.Close())
}
