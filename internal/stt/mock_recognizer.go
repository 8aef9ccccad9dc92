package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-s2s/internal/audio"
	"github.com/loqalabs/loqa-s2s/internal/language"
)

type mockRecognizer struct{}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, buf audio.Buffer, hint language.Code) (TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	lang := string(hint)
	if lang == "" {
		lang = "auto"
	}
	return TranscriptResult{
		Text:     fmt.Sprintf("[%s transcript %s]", lang, buf.Duration()),
		Language: lang,
	}, nil
}
