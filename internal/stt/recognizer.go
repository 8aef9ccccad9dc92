package stt

import (
	"context"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-s2s/internal/audio"
	"github.com/loqalabs/loqa-s2s/internal/config"
	"github.com/loqalabs/loqa-s2s/internal/language"
)

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string
	Language   string
	Confidence float64
}

// Recognizer abstracts ASR backends. An empty hint asks the backend to
// detect the spoken language itself.
type Recognizer interface {
	Transcribe(ctx context.Context, buf audio.Buffer, hint language.Code) (TranscriptResult, error)
}

// ModelSize selects the recognizer tier. Larger tiers are slower and more
// accurate.
type ModelSize string

const (
	SizeTiny   ModelSize = "tiny"
	SizeBase   ModelSize = "base"
	SizeSmall  ModelSize = "small"
	SizeMedium ModelSize = "medium"
	SizeLarge  ModelSize = "large"

	DefaultSize = SizeSmall
)

var sizes = []ModelSize{SizeTiny, SizeBase, SizeSmall, SizeMedium, SizeLarge}

// Sizes lists the supported tiers, smallest first.
func Sizes() []ModelSize { return append([]ModelSize(nil), sizes...) }

// ParseModelSize accepts a tier name; empty selects DefaultSize.
func ParseModelSize(s string) (ModelSize, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultSize, nil
	}
	for _, size := range sizes {
		if string(size) == s {
			return size, nil
		}
	}
	return "", fmt.Errorf("unsupported asr model size %q", s)
}

// Loader loads a recognizer for one model size.
type Loader interface {
	Load(ctx context.Context, size ModelSize) (Recognizer, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, size ModelSize) (Recognizer, error)

func (f LoaderFunc) Load(ctx context.Context, size ModelSize) (Recognizer, error) {
	return f(ctx, size)
}

// NewLoader returns the loader for cfg.Mode.
func NewLoader(cfg config.ASRConfig) (Loader, error) {
	switch cfg.Mode {
	case "", "mock":
		return LoaderFunc(func(context.Context, ModelSize) (Recognizer, error) {
			return NewMockRecognizer(), nil
		}), nil
	case "exec":
		return LoaderFunc(func(_ context.Context, size ModelSize) (Recognizer, error) {
			return NewExecRecognizer(cfg, size)
		}), nil
	case "openai":
		return LoaderFunc(func(_ context.Context, size ModelSize) (Recognizer, error) {
			return NewOpenAIRecognizer(cfg, size), nil
		}), nil
	default:
		return nil, fmt.Errorf("unsupported asr mode %q", cfg.Mode)
	}
}
