package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-s2s/internal/audio"
	"github.com/loqalabs/loqa-s2s/internal/config"
	"github.com/loqalabs/loqa-s2s/internal/language"
	"github.com/loqalabs/loqa-s2s/internal/modelcache"
	"github.com/loqalabs/loqa-s2s/internal/mt"
	"github.com/loqalabs/loqa-s2s/internal/stt"
	"github.com/loqalabs/loqa-s2s/internal/tts"
)

// FromConfig wires the registry, model runtimes and caches described by cfg.
func FromConfig(cfg config.Config, logger *slog.Logger, observers ...Observer) (*Orchestrator, error) {
	registry, err := language.FromConfig(cfg.Languages)
	if err != nil {
		return nil, fmt.Errorf("language registry: %w", err)
	}
	size, err := stt.ParseModelSize(cfg.ASR.ModelSize)
	if err != nil {
		return nil, err
	}

	asrLoader, err := stt.NewLoader(cfg.ASR)
	if err != nil {
		return nil, err
	}
	asrCache, err := modelcache.New[stt.Recognizer](cfg.Cache.MaxModels, logger)
	if err != nil {
		return nil, err
	}

	mtLoader, err := mt.NewLoader(cfg.MT, registry)
	if err != nil {
		return nil, err
	}
	mtCache, err := modelcache.New[mt.Engine](cfg.Cache.MaxModels, logger)
	if err != nil {
		return nil, err
	}

	synth, err := tts.New(cfg.TTS)
	if err != nil {
		return nil, err
	}

	return New(Options{
		Registry:   registry,
		Decoder:    audio.Decoder{SampleRate: cfg.Audio.SampleRate, FFmpeg: cfg.Audio.FFmpeg},
		ASR:        stt.NewService(asrLoader, asrCache, logger),
		Translator: mt.NewTranslator(mtLoader, mtCache, logger),
		TTS:        tts.NewService(cfg.TTS, synth, logger),
		ASRSize:    size,
		Observers:  observers,
		Logger:     logger,
	}), nil
}
