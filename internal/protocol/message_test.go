package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frames(parts ...string) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = []byte(p)
	}
	return out
}

func TestDecodeLegacyDataBlock(t *testing.T) {
	header := `{"message_no":1,"type":"data","content":{"n_channels":2,"n_samples":4,` +
		`"n_real_samples":4,"sample_rate":1000,"timestamp":0},"data_size":32}`
	payload := EncodeFloat32([]float32{1, 2, 3, 4, 5, 6, 7, 8})

	m, err := NewCodec(RevisionLegacy).Decode([][]byte{[]byte("DATA"), []byte(header), payload})
	require.NoError(t, err)

	data, ok := AsData(m)
	require.True(t, ok)
	require.NotNil(t, data.Block)
	assert.Nil(t, data.Stream)
	assert.Equal(t, DataContent{NChannels: 2, NSamples: 4, NRealSamples: 4, SampleRate: 1000}, *data.Block)
	assert.Equal(t, uint64(1), data.Header().MessageNo)
	samples, err := data.Samples()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, samples)
}

func TestDecodeStreamData(t *testing.T) {
	header := `{"message_num":3,"type":"data","content":{"stream":"example_data","channel_num":5,` +
		`"num_samples":2,"sample_num":640,"sample_rate":30000.0},"data_size":8,"timestamp":1690000000000}`
	m, err := NewCodec(RevisionStream).Decode([][]byte{[]byte("DATA\x00"), []byte(header), EncodeFloat32([]float32{0.5, -0.5})})
	require.NoError(t, err)
	data, ok := AsData(m)
	require.True(t, ok)
	require.NotNil(t, data.Stream)
	assert.Equal(t, uint32(5), data.Stream.ChannelNum)
	assert.Equal(t, int64(640), data.Stream.SampleNum)
	assert.Equal(t, 30000.0, data.Stream.SampleRate)
}

func TestDecodeShortFrame(t *testing.T) {
	codec := NewCodec(RevisionLegacy)
	_, err := codec.Decode(frames("DATA"))
	assert.ErrorIs(t, err, ErrShortFrame)
	_, err = codec.Decode(nil)
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestDecodePayloadRules(t *testing.T) {
	codec := NewCodec(RevisionLegacy)
	event := func(size string) string {
		return `{"message_no":4,"type":"event","content":{"type":3,"sample_num":10,"event_id":1,` +
			`"event_channel":2,"timestamp":10},"data_size":` + size + `}`
	}

	t.Run("zero size ignores extra frame", func(t *testing.T) {
		m, err := codec.Decode(frames("EVENT", event("0"), "junk"))
		require.NoError(t, err)
		ev, ok := AsEvent(m)
		require.True(t, ok)
		assert.Nil(t, ev.Payload)
	})
	t.Run("missing payload frame", func(t *testing.T) {
		_, err := codec.Decode(frames("EVENT", event("3")))
		assert.ErrorIs(t, err, ErrMissingPayload)
	})
	t.Run("payload shorter than size", func(t *testing.T) {
		_, err := codec.Decode(frames("EVENT", event("3"), "ab"))
		assert.ErrorIs(t, err, ErrMissingPayload)
	})
	t.Run("payload truncated to size", func(t *testing.T) {
		m, err := codec.Decode(frames("EVENT", event("2"), "abcd"))
		require.NoError(t, err)
		ev, _ := AsEvent(m)
		assert.Equal(t, []byte("ab"), ev.Payload)
		assert.Equal(t, int32(2), ev.Content.EventChannel)
		assert.Equal(t, EventTTL, ev.Content.Type)
	})
}

func TestDecodeSpikeWithoutDataSize(t *testing.T) {
	header := `{"message_num":8,"type":"spike","spike":{"electrode":"SE0","sample_num":77,` +
		`"num_channels":1,"num_samples":2,"sorted_id":3,"threshold":[-30]}}`
	wave := EncodeFloat32([]float32{-12, 4})
	m, err := NewCodec(RevisionStream).Decode([][]byte{[]byte("EVENT\x00"), []byte(header), wave})
	require.NoError(t, err)
	spike, ok := AsSpike(m)
	require.True(t, ok)
	assert.Equal(t, "SE0", spike.Content.Electrode)
	assert.Equal(t, int32(3), spike.Content.SortedID)
	got, err := spike.Waveform()
	require.NoError(t, err)
	assert.Equal(t, []float32{-12, 4}, got)
}

func TestDecodeTagMismatch(t *testing.T) {
	header := `{"message_no":1,"type":"param","content":{}}`
	_, err := NewCodec(RevisionLegacy).Decode(frames("DATA", header))
	assert.ErrorIs(t, err, ErrParse)

	_, err = NewCodec(RevisionLegacy).Decode(frames("", header))
	assert.NoError(t, err, "reader-side frames may carry an empty tag")
}

func TestDecodeContentValidation(t *testing.T) {
	cases := []struct {
		name    string
		rev     Revision
		content string
	}{
		{"real exceeds stride", RevisionLegacy, `{"n_channels":1,"n_samples":2,"n_real_samples":3,"sample_rate":1,"timestamp":0}`},
		{"zero channels", RevisionLegacy, `{"n_channels":0,"n_samples":2,"n_real_samples":2,"sample_rate":1,"timestamp":0}`},
		{"negative channels", RevisionLegacy, `{"n_channels":-1,"n_samples":2,"n_real_samples":2,"sample_rate":1,"timestamp":0}`},
		{"missing timestamp", RevisionLegacy, `{"n_channels":1,"n_samples":2,"n_real_samples":2,"sample_rate":1}`},
		{"stream missing channel", RevisionStream, `{"num_samples":2,"sample_num":0,"sample_rate":1}`},
		{"stream fractional channel", RevisionStream, `{"channel_num":1.5,"num_samples":2,"sample_num":0,"sample_rate":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			header := `{"message_no":1,"type":"data","content":` + tc.content + `}`
			_, err := NewCodec(tc.rev).Decode(frames("DATA", header))
			assert.ErrorIs(t, err, ErrParse)
		})
	}

	spike := `{"message_no":1,"type":"spike","content":{"electrode":"e","sample_num":1,"num_channels":2,"num_samples":4,"threshold":[1]}}`
	_, err := NewCodec(RevisionLegacy).Decode(frames("EVENT", spike))
	assert.ErrorIs(t, err, ErrParse)
}

func TestAsHelpersNotApplicable(t *testing.T) {
	m, err := NewCodec(RevisionLegacy).Decode(frames("PARAM", `{"message_no":2,"type":"param","content":{"gain":1.5,"mode":"car"}}`))
	require.NoError(t, err)

	_, ok := AsData(m)
	assert.False(t, ok)
	_, ok = AsEvent(m)
	assert.False(t, ok)
	_, ok = AsSpike(m)
	assert.False(t, ok)
	_, ok = AsHeartbeat(m)
	assert.False(t, ok)

	p, ok := AsParam(m)
	require.True(t, ok)
	gain, ok := p.Params.Float("gain")
	assert.True(t, ok)
	assert.Equal(t, 1.5, gain)
	mode, ok := p.Params.Text("mode")
	assert.True(t, ok)
	assert.Equal(t, "car", mode)
	_, ok = p.Params.Float("mode")
	assert.False(t, ok)
}

func TestDecodeHeartbeatMessage(t *testing.T) {
	m, err := NewCodec(RevisionStream).Decode(frames("", `{"application":"viewer","uuid":"A","type":"heartbeat"}`))
	require.NoError(t, err)
	hb, ok := AsHeartbeat(m)
	require.True(t, ok)
	assert.Equal(t, "viewer", hb.Request.Application)
	assert.Equal(t, "A", hb.Request.UUID)
}

func TestEncodeFrames(t *testing.T) {
	codec := NewCodec(RevisionLegacy)
	env := Envelope{MessageNo: 1, Type: TypeEvent, Content: mustContent(t, EventContent{Type: EventTTL, SampleNum: 5})}

	fs, err := codec.Encode(env, nil)
	require.NoError(t, err)
	require.Len(t, fs, 2)
	assert.Equal(t, "EVENT", string(fs[0]))
	assert.Contains(t, string(fs[1]), `"data_size":0`)

	fs, err = codec.Encode(env, []byte{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, fs, 3)
	assert.Contains(t, string(fs[1]), `"data_size":3`)

	m, err := codec.Decode(fs)
	require.NoError(t, err)
	ev, ok := AsEvent(m)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, ev.Payload)
}
