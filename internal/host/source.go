package host

import "math"

// SineSource generates test blocks: channel c carries a sine at
// (c+1) * BaseHz with unit amplitude.
type SineSource struct {
	Channels   []uint32
	BlockSize  int
	SampleRate float64
	BaseHz     float64

	next int64
}

func NewSineSource(numChannels, blockSize int, sampleRate float64) *SineSource {
	chans := make([]uint32, numChannels)
	for i := range chans {
		chans[i] = uint32(i)
	}
	return &SineSource{Channels: chans, BlockSize: blockSize, SampleRate: sampleRate, BaseHz: 10}
}

// Next returns the following block. SampleNum is the index of its first sample.
func (s *SineSource) Next() SampleBlock {
	samples := make([][]float32, len(s.Channels))
	for c := range s.Channels {
		hz := s.BaseHz * float64(c+1)
		row := make([]float32, s.BlockSize)
		for i := range row {
			t := float64(s.next+int64(i)) / s.SampleRate
			row[i] = float32(math.Sin(2 * math.Pi * hz * t))
		}
		samples[c] = row
	}
	b := SampleBlock{Channels: s.Channels, Samples: samples, SampleNum: s.next, SampleRate: s.SampleRate}
	s.next += int64(s.BlockSize)
	return b
}

// Position returns the index of the next sample to be generated.
func (s *SineSource) Position() int64 { return s.next }
