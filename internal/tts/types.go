package tts

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-s2s/internal/audio"
	"github.com/loqalabs/loqa-s2s/internal/config"
)

// SynthRequest contains parameters to synthesize speech. An empty Voice and a
// zero Rate select the backend defaults.
type SynthRequest struct {
	Text  string
	Voice string
	Rate  float64
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (audio.Buffer, error)
}

// New returns the synthesizer for cfg.Mode.
func New(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockSynth(cfg.SampleRate), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate)
	case "piper":
		return NewPiperSynth(cfg.Command, cfg.SampleRate)
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}
