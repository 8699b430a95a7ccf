package stream

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongjun500/neurostream/internal/protocol"
)

func legacyBlock(nCh, nSamples, nReal uint32, ts uint64, values ...float32) *protocol.DataMessage {
	return &protocol.DataMessage{
		Envelope: protocol.Envelope{Type: protocol.TypeData, DataSize: uint32(4 * len(values))},
		Block: &protocol.DataContent{
			NChannels: nCh, NSamples: nSamples, NRealSamples: nReal, SampleRate: 1000, Timestamp: ts,
		},
		Payload: protocol.EncodeFloat32(values),
	}
}

func streamBlock(channel uint32, sampleNum int64, values ...float32) *protocol.DataMessage {
	return &protocol.DataMessage{
		Envelope: protocol.Envelope{Type: protocol.TypeData, DataSize: uint32(4 * len(values))},
		Stream: &protocol.StreamDataContent{
			ChannelNum: channel, NumSamples: uint32(len(values)), SampleNum: sampleNum, SampleRate: 30000,
		},
		Payload: protocol.EncodeFloat32(values),
	}
}

func drainAll(t *testing.T, s *ChannelBufferStore, channel int) Samples {
	t.Helper()
	got, err := s.Drain(channel, s.Len(channel))
	require.NoError(t, err)
	return got
}

func TestIngestChannelMajorBlock(t *testing.T) {
	s := NewChannelBufferStore()
	require.NoError(t, s.Ingest(legacyBlock(2, 4, 4, 0, 1, 2, 3, 4, 5, 6, 7, 8)))

	assert.Equal(t, []int{0, 1}, s.Channels())
	ch0 := drainAll(t, s, 0)
	ch1 := drainAll(t, s, 1)
	assert.Equal(t, []float32{1, 2, 3, 4}, ch0.Values)
	assert.Equal(t, []float32{5, 6, 7, 8}, ch1.Values)
	assert.Equal(t, []uint64{1, 2, 3, 4}, ch0.Timestamps)
	assert.Equal(t, []uint64{1, 2, 3, 4}, ch1.Timestamps)
}

func TestIngestFromWire(t *testing.T) {
	header, err := json.Marshal(map[string]any{
		"message_no": 1,
		"type":       "data",
		"content": map[string]any{
			"n_channels": 2, "n_samples": 4, "n_real_samples": 4, "sample_rate": 1000, "timestamp": 0,
		},
		"data_size": 32,
	})
	require.NoError(t, err)
	msg, err := protocol.NewCodec(protocol.RevisionLegacy).Decode([][]byte{
		[]byte("DATA"), header, protocol.EncodeFloat32([]float32{1, 2, 3, 4, 5, 6, 7, 8}),
	})
	require.NoError(t, err)
	data, ok := protocol.AsData(msg)
	require.True(t, ok)

	s := NewChannelBufferStore()
	require.NoError(t, s.Ingest(data))
	got, err := s.Drain(1, 4)
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 6, 7, 8}, got.Values)
}

func TestTimestampSynthesisStartsAfterBlockIndex(t *testing.T) {
	s := NewChannelBufferStore(0)
	require.NoError(t, s.Ingest(legacyBlock(1, 3, 3, 1000, 0.1, 0.2, 0.3)))
	got := drainAll(t, s, 0)
	assert.Equal(t, []uint64{1001, 1002, 1003}, got.Timestamps)
}

func TestIngestSkipsPadding(t *testing.T) {
	s := NewChannelBufferStore(0, 1)
	// Stride 4, only 2 real samples per channel.
	require.NoError(t, s.Ingest(legacyBlock(2, 4, 2, 10, 1, 2, -1, -1, 5, 6, -1, -1)))
	ch0 := drainAll(t, s, 0)
	ch1 := drainAll(t, s, 1)
	assert.Equal(t, []float32{1, 2}, ch0.Values)
	assert.Equal(t, []float32{5, 6}, ch1.Values)
	assert.Equal(t, []uint64{11, 12}, ch1.Timestamps)
}

func TestIngestExplicitSubset(t *testing.T) {
	s := NewChannelBufferStore(1)
	require.NoError(t, s.Ingest(legacyBlock(3, 2, 2, 0, 1, 2, 3, 4, 5, 6)))
	assert.Equal(t, []int{1}, s.Channels())
	assert.Equal(t, 0, s.Len(0))
	got, err := s.Drain(1, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, got.Values)
}

func TestIngestRejectsMismatchedLayout(t *testing.T) {
	t.Run("payload shorter than declared block", func(t *testing.T) {
		s := NewChannelBufferStore()
		err := s.Ingest(legacyBlock(2, 4, 4, 0, 1, 2, 3, 4, 5, 6))
		assert.ErrorIs(t, err, ErrLayout)
		assert.Empty(t, s.Channels())
	})
	t.Run("tracked channel outside block", func(t *testing.T) {
		s := NewChannelBufferStore(0, 2)
		err := s.Ingest(legacyBlock(2, 1, 1, 0, 1, 2))
		assert.ErrorIs(t, err, ErrLayout)
		assert.Zero(t, s.Len(0), "rejected blocks leave no partial data")
	})
	t.Run("channel count changes after derivation", func(t *testing.T) {
		s := NewChannelBufferStore()
		require.NoError(t, s.Ingest(legacyBlock(2, 1, 1, 0, 1, 2)))
		err := s.Ingest(legacyBlock(3, 1, 1, 1, 1, 2, 3))
		assert.ErrorIs(t, err, ErrLayout)
		assert.Equal(t, 1, s.Len(0))
	})
}

func TestDrain(t *testing.T) {
	s := NewChannelBufferStore()
	require.NoError(t, s.Ingest(legacyBlock(1, 3, 3, 0, 1, 2, 3)))
	require.NoError(t, s.Ingest(legacyBlock(1, 3, 3, 3, 4, 5, 6)))

	got, err := s.Drain(0, 4)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, got.Values)
	assert.Equal(t, []uint64{1, 2, 3, 4}, got.Timestamps)
	assert.Equal(t, 2, s.Len(0))

	_, err = s.Drain(0, 3)
	assert.ErrorIs(t, err, ErrInsufficientData)
	assert.Equal(t, 2, s.Len(0), "failed drain has no side effects")

	got, err = s.Drain(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 6}, got.Values)
	assert.Equal(t, 0, s.Len(0))

	_, err = s.Drain(7, 1)
	assert.ErrorIs(t, err, ErrUnknownChannel)
	_, err = s.Drain(0, -1)
	assert.Error(t, err)
}

func TestDrainedSamplesAreNotAliased(t *testing.T) {
	s := NewChannelBufferStore()
	require.NoError(t, s.Ingest(legacyBlock(1, 2, 2, 0, 1, 2)))
	got, err := s.Drain(0, 1)
	require.NoError(t, err)
	got.Values[0] = 99
	rest := drainAll(t, s, 0)
	assert.Equal(t, []float32{2}, rest.Values)
}

func TestIngestStreamRevision(t *testing.T) {
	s := NewChannelBufferStore()
	require.NoError(t, s.Ingest(streamBlock(3, 640, 0.5, 0.25)))
	require.NoError(t, s.Ingest(streamBlock(1, 640, 7)))
	require.NoError(t, s.Ingest(streamBlock(3, 642, 0.125)))

	assert.Equal(t, []int{1, 3}, s.Channels())
	got, err := s.Drain(3, 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25, 0.125}, got.Values)
	assert.Equal(t, []uint64{641, 642, 643}, got.Timestamps)

	fixed := NewChannelBufferStore(1)
	require.NoError(t, fixed.Ingest(streamBlock(3, 0, 1)))
	assert.Equal(t, 0, fixed.Len(3), "untracked channels are ignored")

	bad := streamBlock(1, 0, 1, 2)
	bad.Stream.NumSamples = 3
	assert.ErrorIs(t, fixed.Ingest(bad), ErrLayout)
}

func TestConcurrentIngestAndDrain(t *testing.T) {
	s := NewChannelBufferStore(0)
	const blocks = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < blocks; i++ {
			_ = s.Ingest(legacyBlock(1, 2, 2, uint64(2*i), float32(2*i), float32(2*i+1)))
		}
	}()

	var drained []float32
	for len(drained) < 2*blocks {
		got, err := s.Drain(0, 2)
		if err != nil {
			continue
		}
		drained = append(drained, got.Values...)
	}
	wg.Wait()
	for i, v := range drained {
		require.Equal(t, float32(i), v)
	}
}
