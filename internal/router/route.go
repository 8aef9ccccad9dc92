package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-s2s/internal/language"
)

// Kind tells how a pair is translated.
type Kind int

const (
	// Direct uses one model trained for the pair.
	Direct Kind = iota
	// Pivot chains source->English and English->target models.
	Pivot
	// Identity returns the text unchanged (source == target).
	Identity
)

func (k Kind) String() string {
	switch k {
	case Direct:
		return "direct"
	case Pivot:
		return "pivot"
	case Identity:
		return "identity"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Route is a fully resolved translation plan. Hops holds one model for
// Direct, two for Pivot and none for Identity.
type Route struct {
	Kind   Kind
	Source language.Code
	Target language.Code
	Hops   []language.Model
}

func (r Route) String() string {
	switch r.Kind {
	case Identity:
		return fmt.Sprintf("identity(%s)", r.Source)
	default:
		ids := make([]string, len(r.Hops))
		for i, h := range r.Hops {
			ids[i] = h.ID
		}
		return fmt.Sprintf("%s(%s)", r.Kind, strings.Join(ids, ", "))
	}
}

// ErrNoRoute is matched by every *NoRouteError.
var ErrNoRoute = errors.New("no translation route available")

// NoRouteError names the pair and, for rejected pivots, the missing legs.
type NoRouteError struct {
	Source  language.Code
	Target  language.Code
	Missing []language.Pair
}

func (e *NoRouteError) Error() string {
	msg := fmt.Sprintf("no translation route available for %s->%s", e.Source, e.Target)
	if len(e.Missing) > 0 {
		legs := make([]string, len(e.Missing))
		for i, p := range e.Missing {
			legs[i] = p.String()
		}
		msg += " (missing pivot legs: " + strings.Join(legs, ", ") + ")"
	}
	return msg
}

func (e *NoRouteError) Is(target error) bool { return target == ErrNoRoute }

// Router resolves routes from a registry. It has no side effects.
type Router struct {
	registry *language.Registry
}

func New(registry *language.Registry) *Router {
	return &Router{registry: registry}
}

// Resolve returns the complete route for src->tgt before any translation
// runs. A direct model always wins over a pivot.
func (r *Router) Resolve(src, tgt language.Code) (Route, error) {
	if err := r.registry.Validate(src); err != nil {
		return Route{}, err
	}
	if err := r.registry.Validate(tgt); err != nil {
		return Route{}, err
	}

	if m, ok := r.registry.DirectModel(src, tgt); ok {
		return Route{Kind: Direct, Source: src, Target: tgt, Hops: []language.Model{m}}, nil
	}
	if src == tgt {
		return Route{Kind: Identity, Source: src, Target: tgt}, nil
	}
	if src == language.English || tgt == language.English {
		return Route{}, &NoRouteError{Source: src, Target: tgt}
	}

	toPivot, okTo := r.registry.DirectModel(src, language.English)
	fromPivot, okFrom := r.registry.DirectModel(language.English, tgt)
	if !okTo || !okFrom {
		noRoute := &NoRouteError{Source: src, Target: tgt}
		if !okTo {
			noRoute.Missing = append(noRoute.Missing, language.Pair{Source: src, Target: language.English})
		}
		if !okFrom {
			noRoute.Missing = append(noRoute.Missing, language.Pair{Source: language.English, Target: tgt})
		}
		return Route{}, noRoute
	}
	return Route{Kind: Pivot, Source: src, Target: tgt, Hops: []language.Model{toPivot, fromPivot}}, nil
}
