// Package mt translates text with pluggable machine translation backends and
// executes the routes computed by the router package.
package mt

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-s2s/internal/config"
	"github.com/loqalabs/loqa-s2s/internal/language"
)

// Engine is one loaded translation model for a single direction.
type Engine interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Loader loads the engine for a registry model.
type Loader interface {
	Load(ctx context.Context, model language.Model) (Engine, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, model language.Model) (Engine, error)

func (f LoaderFunc) Load(ctx context.Context, model language.Model) (Engine, error) {
	return f(ctx, model)
}

// NewLoader returns the loader for cfg.Mode. The registry supplies display
// names for prompt based backends.
func NewLoader(cfg config.MTConfig, registry *language.Registry) (Loader, error) {
	switch cfg.Mode {
	case "", "mock":
		return LoaderFunc(func(_ context.Context, model language.Model) (Engine, error) {
			return NewMockEngine(model), nil
		}), nil
	case "exec":
		return LoaderFunc(func(_ context.Context, model language.Model) (Engine, error) {
			return NewExecEngine(cfg.Command, model, cfg.MaxLength)
		}), nil
	case "ollama":
		return LoaderFunc(func(_ context.Context, model language.Model) (Engine, error) {
			p, err := newPrompt(registry, model)
			if err != nil {
				return nil, err
			}
			return NewOllamaEngine(cfg, p), nil
		}), nil
	case "openai":
		return LoaderFunc(func(_ context.Context, model language.Model) (Engine, error) {
			p, err := newPrompt(registry, model)
			if err != nil {
				return nil, err
			}
			return NewOpenAIEngine(cfg, model, p), nil
		}), nil
	default:
		return nil, fmt.Errorf("unsupported mt mode %q", cfg.Mode)
	}
}

// prompt instructs a general purpose LLM to behave like a single direction
// translation model.
type prompt struct {
	system string
}

func newPrompt(registry *language.Registry, model language.Model) (prompt, error) {
	src, err := registry.DisplayName(model.Source)
	if err != nil {
		return prompt{}, err
	}
	tgt, err := registry.DisplayName(model.Target)
	if err != nil {
		return prompt{}, err
	}
	return prompt{system: fmt.Sprintf(
		"You are a translation engine. Translate the user's %s text into %s. "+
			"Reply with the %s translation only, without notes, quotes or transliteration.",
		src, tgt, tgt,
	)}, nil
}
