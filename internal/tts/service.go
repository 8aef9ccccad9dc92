package tts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-s2s/internal/audio"
	"github.com/loqalabs/loqa-s2s/internal/config"
)

// ErrEmptyAudio is returned when non-empty text produced no samples.
var ErrEmptyAudio = errors.New("synthesizer produced no audio")

type Service struct {
	cfg    config.TTSConfig
	synth  Synthesizer
	logger *slog.Logger
}

func NewService(cfg config.TTSConfig, synth Synthesizer, log *slog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		synth:  synth,
		logger: log.With(slog.String("component", "tts-service")),
	}
}

// SampleRate is the rate of buffers returned for blank text.
func (s *Service) SampleRate() int {
	if s.cfg.SampleRate > 0 {
		return s.cfg.SampleRate
	}
	return 22050
}

// Synthesize renders text with the configured voice and rate. Blank text
// yields a zero-length buffer without invoking the backend.
func (s *Service) Synthesize(ctx context.Context, text string) (audio.Buffer, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return audio.Buffer{SampleRate: s.SampleRate()}, nil
	}

	start := time.Now()
	buf, err := s.synth.Synthesize(ctx, SynthRequest{Text: text, Voice: s.cfg.Voice, Rate: s.cfg.Rate})
	if err != nil {
		return audio.Buffer{}, err
	}
	if buf.Empty() {
		return audio.Buffer{}, ErrEmptyAudio
	}
	if buf.SampleRate <= 0 {
		buf.SampleRate = s.SampleRate()
	}
	s.logger.Debug("synthesis complete",
		slog.Int("chars", len(text)),
		slog.Duration("audio", buf.Duration()),
		slog.Duration("latency", time.Since(start)),
	)
	return buf, nil
}
