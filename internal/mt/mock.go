package mt

import (
	"context"
	"strings"

	"github.com/loqalabs/loqa-s2s/internal/language"
)

type mockEngine struct {
	model language.Model
}

// NewMockEngine tags the input with the target code, e.g. "[kn] text". A tag
// for the model's source language, left by an earlier hop, is replaced rather
// than nested, so a pivot reads "[kn] text" and not "[kn] [en] text".
func NewMockEngine(model language.Model) Engine { return &mockEngine{model: model} }

func (m *mockEngine) Translate(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text = strings.TrimPrefix(text, "["+string(m.model.Source)+"] ")
	return "[" + string(m.model.Target) + "] " + text, nil
}
