package tts

import (
	"context"
	"math"
	"unicode/utf8"

	"github.com/loqalabs/loqa-s2s/internal/audio"
)

const mockMillisPerRune = 60

type mockSynth struct {
	sampleRate int
}

// NewMockSynth renders a quiet 220 Hz tone whose length follows the text.
func NewMockSynth(sampleRate int) Synthesizer {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	return &mockSynth{sampleRate: sampleRate}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (audio.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return audio.Buffer{}, err
	}
	n := utf8.RuneCountInString(req.Text) * m.sampleRate * mockMillisPerRune / 1000
	if req.Rate > 0 {
		n = int(float64(n) / req.Rate)
	}
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.2 * math.Sin(2*math.Pi*220*float64(i)/float64(m.sampleRate)))
	}
	return audio.Buffer{SampleRate: m.sampleRate, Samples: samples}, nil
}
