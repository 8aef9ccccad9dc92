package pipeline

import (
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-s2s/internal/language"
	"github.com/loqalabs/loqa-s2s/internal/router"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrTranslationFailed   = errors.New("translation failed")
	ErrSynthesisFailed     = errors.New("synthesis failed")
	// ErrCancelled reports work that was accepted but abandoned on shutdown.
	ErrCancelled = errors.New("request cancelled")
)

// StageError is the terminal error of a failed run. errors.Is matches Kind;
// errors.As reaches the typed cause in Err.
type StageError struct {
	Stage State
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if errors.Is(e.Err, e.Kind) {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error { return []error{e.Kind, e.Err} }

// KindName returns a stable identifier for the error kind of err, or "" when
// err did not come from a run.
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, language.ErrUnknownLanguage):
		return "unknown_language"
	case errors.Is(err, router.ErrNoRoute):
		return "no_route_available"
	case errors.Is(err, ErrTranscriptionFailed):
		return "transcription_failed"
	case errors.Is(err, ErrTranslationFailed):
		return "translation_failed"
	case errors.Is(err, ErrSynthesisFailed):
		return "synthesis_failed"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	default:
		return "internal"
	}
}
