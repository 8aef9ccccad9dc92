package stt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-s2s/internal/audio"
	"github.com/loqalabs/loqa-s2s/internal/language"
	"github.com/loqalabs/loqa-s2s/internal/modelcache"
)

const cacheKind = "asr"

// Service turns a normalised audio buffer into a transcript, loading one
// recognizer per model size on first use.
type Service struct {
	loader Loader
	cache  *modelcache.Cache[Recognizer]
	logger *slog.Logger
}

func NewService(loader Loader, cache *modelcache.Cache[Recognizer], logger *slog.Logger) *Service {
	return &Service{
		loader: loader,
		cache:  cache,
		logger: logger.With(slog.String("component", "asr-service")),
	}
}

// Close unloads every resident recognizer.
func (s *Service) Close() { s.cache.Purge() }

// Transcribe returns the trimmed transcript. A buffer with no samples yields
// an empty transcript without loading a model.
func (s *Service) Transcribe(ctx context.Context, buf audio.Buffer, size ModelSize, hint language.Code) (string, error) {
	if buf.Empty() {
		return "", nil
	}
	if size == "" {
		size = DefaultSize
	}
	recognizer, err := s.cache.Get(ctx, modelcache.Key{Kind: cacheKind, ID: string(size)}, func(ctx context.Context) (Recognizer, error) {
		return s.loader.Load(ctx, size)
	})
	if err != nil {
		return "", fmt.Errorf("load asr model %s: %w", size, err)
	}

	start := time.Now()
	result, err := recognizer.Transcribe(ctx, buf, hint)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(result.Text)
	s.logger.Debug("transcription complete",
		slog.String("model", string(size)),
		slog.String("language", result.Language),
		slog.Int("chars", len(text)),
		slog.Duration("latency", time.Since(start)),
	)
	return text, nil
}
