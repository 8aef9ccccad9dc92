// Package language holds the static table of supported languages and the
// translation models trained directly between them.
package language

import (
	"errors"
	"fmt"
	"sort"

	"github.com/loqalabs/loqa-s2s/internal/config"
)

// Code is a short language tag such as "hi" or "en".
type Code string

// English is the pivot language for chained translation.
const English Code = "en"

// ErrUnknownLanguage is matched by every *UnknownLanguageError.
var ErrUnknownLanguage = errors.New("unknown language")

// UnknownLanguageError reports a code absent from the registry.
type UnknownLanguageError struct {
	Code Code
}

func (e *UnknownLanguageError) Error() string {
	return fmt.Sprintf("unknown language %q", string(e.Code))
}

func (e *UnknownLanguageError) Is(target error) bool { return target == ErrUnknownLanguage }

// Pair is an ordered (source, target) language pair.
type Pair struct {
	Source Code `json:"source"`
	Target Code `json:"target"`
}

func (p Pair) String() string { return string(p.Source) + "->" + string(p.Target) }

// Language is a registered code and its display name.
type Language struct {
	Code Code   `json:"code"`
	Name string `json:"name"`
}

// Model is a translation model trained directly for one pair.
type Model struct {
	ID     string `json:"id"`
	Source Code   `json:"source"`
	Target Code   `json:"target"`
}

func (m Model) Pair() Pair { return Pair{Source: m.Source, Target: m.Target} }

// Registry is immutable after construction and safe for concurrent use.
type Registry struct {
	languages []Language
	names     map[Code]string
	models    map[Pair]Model
}

// New builds a registry. Every model must reference registered codes.
func New(languages []Language, models []Model) (*Registry, error) {
	r := &Registry{
		names:  make(map[Code]string, len(languages)),
		models: make(map[Pair]Model, len(models)),
	}
	for _, lang := range languages {
		if lang.Code == "" {
			return nil, errors.New("language code must not be empty")
		}
		if _, dup := r.names[lang.Code]; dup {
			return nil, fmt.Errorf("language %q registered twice", lang.Code)
		}
		r.names[lang.Code] = lang.Name
		r.languages = append(r.languages, lang)
	}
	for _, m := range models {
		if m.ID == "" {
			return nil, fmt.Errorf("model for %s has no id", m.Pair())
		}
		if _, ok := r.names[m.Source]; !ok {
			return nil, fmt.Errorf("model %s: %w", m.ID, &UnknownLanguageError{Code: m.Source})
		}
		if _, ok := r.names[m.Target]; !ok {
			return nil, fmt.Errorf("model %s: %w", m.ID, &UnknownLanguageError{Code: m.Target})
		}
		r.models[m.Pair()] = m
	}
	return r, nil
}

// FromConfig builds the registry from the languages block, falling back to
// Default when no names are configured.
func FromConfig(cfg config.LanguagesConfig) (*Registry, error) {
	if len(cfg.Names) == 0 {
		return Default(), nil
	}
	order := cfg.Order
	if len(order) == 0 {
		for code := range cfg.Names {
			order = append(order, code)
		}
		sort.Strings(order)
	}
	seen := make(map[string]bool, len(order))
	langs := make([]Language, 0, len(cfg.Names))
	for _, code := range order {
		name, ok := cfg.Names[code]
		if !ok {
			return nil, fmt.Errorf("languages.order: %w", &UnknownLanguageError{Code: Code(code)})
		}
		seen[code] = true
		langs = append(langs, Language{Code: Code(code), Name: name})
	}
	var rest []string
	for code := range cfg.Names {
		if !seen[code] {
			rest = append(rest, code)
		}
	}
	sort.Strings(rest)
	for _, code := range rest {
		langs = append(langs, Language{Code: Code(code), Name: cfg.Names[code]})
	}

	models := make([]Model, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		models = append(models, Model{ID: m.ID, Source: Code(m.Source), Target: Code(m.Target)})
	}
	return New(langs, models)
}

// Validate returns an *UnknownLanguageError for unregistered codes.
func (r *Registry) Validate(code Code) error {
	if _, ok := r.names[code]; !ok {
		return &UnknownLanguageError{Code: code}
	}
	return nil
}

func (r *Registry) DisplayName(code Code) (string, error) {
	name, ok := r.names[code]
	if !ok {
		return "", &UnknownLanguageError{Code: code}
	}
	return name, nil
}

func (r *Registry) HasDirectRoute(src, tgt Code) bool {
	_, ok := r.models[Pair{Source: src, Target: tgt}]
	return ok
}

func (r *Registry) DirectModel(src, tgt Code) (Model, bool) {
	m, ok := r.models[Pair{Source: src, Target: tgt}]
	return m, ok
}

// Languages returns the registered languages in display order.
func (r *Registry) Languages() []Language {
	return append([]Language(nil), r.languages...)
}

// Models returns every direct model ordered by source then target.
func (r *Registry) Models() []Model {
	out := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Target < out[j].Target
	})
	return out
}
