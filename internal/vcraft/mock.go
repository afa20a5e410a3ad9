package vcraft

import (
	"math"
	"math/rand"
)

// Mock is an in-memory stream. Synthesize fills it with a tone per coarse
// channel, delayed by a controllable amount, for exercising the pipelines
// without capture files.
type Mock struct {
	hdr  Header
	data *Block
}

// NewMock wraps an existing block.
func NewMock(hdr Header, data *Block) *Mock {
	hdr.NSamps = data.NSamp
	if len(hdr.SampleOffsets) == 0 {
		hdr.SampleOffsets = []int{0}
	}
	return &Mock{hdr: hdr, data: data}
}

// Header implements Stream.
func (m *Mock) Header() Header { return m.hdr }

// Read implements Stream.
func (m *Mock) Read(offset, count int) (*Block, error) {
	nsamps := m.hdr.NSamps - m.hdr.MaxSampleOffset()
	if err := checkRange(offset, count, nsamps); err != nil {
		return nil, err
	}
	out := NewBlock(count, m.data.NChan)
	off := offset + m.hdr.MaxSampleOffset()
	for c := 0; c < m.data.NChan; c++ {
		copy(out.Channel(c), m.data.Channel(c)[off:off+count])
	}
	return out, nil
}

// SynthConfig controls the synthetic signal.
type SynthConfig struct {
	NSamps     int
	ToneCycles float64 // tone frequency in cycles per sample
	DelaySamp  float64 // delay applied to the tone, in samples
	Noise      float64 // gaussian noise standard deviation
	Amplitude  float64
	Seed       int64
}

// Synthesize builds a mock stream holding the same delayed tone in every
// coarse channel of hdr.
func Synthesize(hdr Header, cfg SynthConfig) *Mock {
	if cfg.NSamps == 0 {
		cfg.NSamps = 1024
	}
	if cfg.Amplitude == 0 {
		cfg.Amplitude = 1
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	data := NewBlock(cfg.NSamps, hdr.NChan())
	step := 2 * math.Pi * cfg.ToneCycles
	for c := 0; c < data.NChan; c++ {
		ch := data.Channel(c)
		for i := range ch {
			phase := step * (float64(i) - cfg.DelaySamp)
			s, co := math.Sincos(phase)
			re := cfg.Amplitude*co + rng.NormFloat64()*cfg.Noise
			im := cfg.Amplitude*s + rng.NormFloat64()*cfg.Noise
			ch[i] = complex64(complex(re, im))
		}
	}
	return NewMock(hdr, data)
}
