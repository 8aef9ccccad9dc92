package stt

import (
	"context"
	"fmt"
	"os"

	"github.com/loqalabs/loqa-s2s/internal/audio"
	"github.com/loqalabs/loqa-s2s/internal/config"
	"github.com/loqalabs/loqa-s2s/internal/language"
	openai "github.com/sashabaranov/go-openai"
)

// openaiRecognizer talks to an OpenAI-compatible /audio/transcriptions
// endpoint, such as a local whisper.cpp server.
type openaiRecognizer struct {
	client *openai.Client
	model  string
}

func NewOpenAIRecognizer(cfg config.ASRConfig, size ModelSize) Recognizer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	model := cfg.Model
	if model == "" {
		model = string(size)
	}
	return &openaiRecognizer{client: openai.NewClientWithConfig(clientCfg), model: model}
}

func (r *openaiRecognizer) Transcribe(ctx context.Context, buf audio.Buffer, hint language.Code) (TranscriptResult, error) {
	file, err := os.CreateTemp("", "loqa_asr_*.wav")
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.EncodeWAV(file, buf); err != nil {
		return TranscriptResult{}, err
	}

	resp, err := r.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    r.model,
		FilePath: file.Name(),
		Language: string(hint),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("transcription request: %w", err)
	}
	return TranscriptResult{Text: resp.Text, Language: resp.Language}, nil
}
