package mt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-s2s/internal/language"
	"github.com/loqalabs/loqa-s2s/internal/modelcache"
	"github.com/loqalabs/loqa-s2s/internal/router"
)

const cacheKind = "mt"

// Stage names the translation call that failed.
type Stage string

const (
	StageDirect    Stage = "direct"
	StageToPivot   Stage = "pivot-to-pivot"
	StageFromPivot Stage = "pivot-from-pivot"
)

// Error reports a failed translation call. Partial output is discarded.
type Error struct {
	Stage Stage
	Model string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("translation failed at %s (%s): %v", e.Stage, e.Model, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Translator executes routes. It keeps no per-request state.
type Translator struct {
	loader Loader
	cache  *modelcache.Cache[Engine]
	logger *slog.Logger
}

func NewTranslator(loader Loader, cache *modelcache.Cache[Engine], logger *slog.Logger) *Translator {
	return &Translator{
		loader: loader,
		cache:  cache,
		logger: logger.With(slog.String("component", "translator")),
	}
}

// Close unloads every resident engine.
func (t *Translator) Close() { t.cache.Purge() }

// Translate runs text through route. Blank input returns "" without touching
// any model; an Identity route returns text unchanged.
func (t *Translator) Translate(ctx context.Context, text string, route router.Route) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	switch route.Kind {
	case router.Identity:
		return text, nil
	case router.Direct:
		if len(route.Hops) != 1 {
			return "", fmt.Errorf("direct route needs one model, got %d", len(route.Hops))
		}
		return t.call(ctx, StageDirect, route.Hops[0], text)
	case router.Pivot:
		if len(route.Hops) != 2 {
			return "", fmt.Errorf("pivot route needs two models, got %d", len(route.Hops))
		}
		english, err := t.call(ctx, StageToPivot, route.Hops[0], text)
		if err != nil {
			return "", err
		}
		if english == "" {
			return "", nil
		}
		return t.call(ctx, StageFromPivot, route.Hops[1], english)
	default:
		return "", fmt.Errorf("unsupported route kind %s", route.Kind)
	}
}

func (t *Translator) call(ctx context.Context, stage Stage, model language.Model, text string) (string, error) {
	engine, err := t.cache.Get(ctx, modelcache.Key{Kind: cacheKind, ID: model.ID}, func(ctx context.Context) (Engine, error) {
		return t.loader.Load(ctx, model)
	})
	if err != nil {
		return "", &Error{Stage: stage, Model: model.ID, Err: fmt.Errorf("load model: %w", err)}
	}
	start := time.Now()
	out, err := engine.Translate(ctx, text)
	if err != nil {
		return "", &Error{Stage: stage, Model: model.ID, Err: err}
	}
	t.logger.Debug("translation call complete",
		slog.String("stage", string(stage)),
		slog.String("model", model.ID),
		slog.Duration("latency", time.Since(start)),
	)
	return strings.TrimSpace(out), nil
}
