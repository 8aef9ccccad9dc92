// Package pipeline runs one recording through recognition, routing,
// translation and synthesis, strictly in that order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-s2s/internal/audio"
	"github.com/loqalabs/loqa-s2s/internal/language"
	"github.com/loqalabs/loqa-s2s/internal/mt"
	"github.com/loqalabs/loqa-s2s/internal/router"
	"github.com/loqalabs/loqa-s2s/internal/stt"
	"github.com/loqalabs/loqa-s2s/internal/tts"
)

const instrumentation = "github.com/loqalabs/loqa-s2s/pipeline"

// Request describes one batch translation. ID is generated when empty and
// ASRSize defaults to the orchestrator's size.
type Request struct {
	ID         string
	InputPath  string
	Source     language.Code
	Target     language.Code
	OutputPath string
	ASRSize    stt.ModelSize
}

// Result is the immutable record of a completed run.
type Result struct {
	RequestID      string        `json:"request_id"`
	SourceText     string        `json:"source_text"`
	TranslatedText string        `json:"translated_text"`
	OutputPath     string        `json:"output_path"`
	Route          router.Route  `json:"-"`
	OutputDuration time.Duration `json:"output_duration"`
}

type Options struct {
	Registry   *language.Registry
	Decoder    audio.Decoder
	ASR        *stt.Service
	Translator *mt.Translator
	TTS        *tts.Service
	ASRSize    stt.ModelSize
	Observers  []Observer
	Logger     *slog.Logger
}

// Orchestrator holds no per-request state; RunFile may be called from many
// goroutines at once.
type Orchestrator struct {
	registry   *language.Registry
	router     *router.Router
	decoder    audio.Decoder
	asr        *stt.Service
	translator *mt.Translator
	tts        *tts.Service
	asrSize    stt.ModelSize
	observers  []Observer
	logger     *slog.Logger

	tracer   trace.Tracer
	requests metric.Int64Counter
	stageDur metric.Float64Histogram
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := opts.ASRSize
	if size == "" {
		size = stt.DefaultSize
	}
	o := &Orchestrator{
		registry:   opts.Registry,
		router:     router.New(opts.Registry),
		decoder:    opts.Decoder,
		asr:        opts.ASR,
		translator: opts.Translator,
		tts:        opts.TTS,
		asrSize:    size,
		observers:  append([]Observer(nil), opts.Observers...),
		logger:     logger.With(slog.String("component", "orchestrator")),
		tracer:     otel.Tracer(instrumentation),
	}

	meter := otel.Meter(instrumentation)
	var err error
	if o.requests, err = meter.Int64Counter("loqa.s2s.requests", metric.WithDescription("Completed orchestration runs by outcome")); err != nil {
		o.logger.Warn("failed to create request counter", slogError(err))
	}
	if o.stageDur, err = meter.Float64Histogram("loqa.s2s.stage.duration", metric.WithUnit("s"), metric.WithDescription("Duration of each pipeline stage")); err != nil {
		o.logger.Warn("failed to create stage histogram", slogError(err))
	}
	return o
}

// Close unloads the models held by the ASR and MT runtimes. RunFile must not
// be in flight.
func (o *Orchestrator) Close() {
	if o.asr != nil {
		o.asr.Close()
	}
	if o.translator != nil {
		o.translator.Close()
	}
}

// Registry exposes the language table the orchestrator validates against.
func (o *Orchestrator) Registry() *language.Registry { return o.registry }

// Resolve computes the route for a pair without running anything.
func (o *Orchestrator) Resolve(src, tgt language.Code) (router.Route, error) {
	return o.router.Resolve(src, tgt)
}

// run carries the state of one RunFile call.
type run struct {
	o         *Orchestrator
	id        string
	state     State
	observers []Observer
}

func (r *run) enter(to State) {
	t := Transition{RequestID: r.id, From: r.state, To: to, At: time.Now()}
	r.state = to
	r.emit(t)
}

func (r *run) fail(kind, cause error) error {
	err := &StageError{Stage: r.state, Kind: kind, Err: cause}
	t := Transition{RequestID: r.id, From: r.state, To: Failed, Err: err, At: time.Now()}
	r.state = Failed
	r.emit(t)
	return err
}

func (r *run) emit(t Transition) {
	for _, obs := range r.o.observers {
		obs.OnTransition(t)
	}
	for _, obs := range r.observers {
		obs.OnTransition(t)
	}
}

// RunFile translates the recording at req.InputPath into req.OutputPath.
// Language codes are checked before any file or model work. The output file
// exists only when RunFile succeeds.
func (o *Orchestrator) RunFile(ctx context.Context, req Request, observers ...Observer) (res Result, err error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	size := req.ASRSize
	if size == "" {
		size = o.asrSize
	}
	r := &run{o: o, id: req.ID, state: Idle, observers: observers}
	log := o.logger.With(slog.String("request_id", req.ID))

	ctx, span := o.tracer.Start(ctx, "s2s.run", trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("language.source", string(req.Source)),
		attribute.String("language.target", string(req.Target)),
	))
	defer func() {
		outcome := "done"
		if err != nil {
			outcome = KindName(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Warn("translation failed", slog.String("stage", r.lastStage(err)), slogError(err))
		}
		if o.requests != nil {
			o.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		}
		span.End()
	}()

	if err := o.registry.Validate(req.Source); err != nil {
		return Result{}, r.fail(language.ErrUnknownLanguage, err)
	}
	if err := o.registry.Validate(req.Target); err != nil {
		return Result{}, r.fail(language.ErrUnknownLanguage, err)
	}
	if req.InputPath == "" || req.OutputPath == "" {
		return Result{}, r.fail(ErrInvalidRequest, errors.New("input and output paths are required"))
	}

	r.enter(Transcribing)
	var transcript string
	err = o.stage(ctx, Transcribing, func(ctx context.Context) error {
		buf, err := o.decoder.Decode(ctx, req.InputPath)
		if err != nil {
			return err
		}
		transcript, err = o.asr.Transcribe(ctx, buf, size, req.Source)
		return err
	})
	if err != nil {
		return Result{}, r.fail(ErrTranscriptionFailed, err)
	}

	r.enter(Routing)
	route, err := o.router.Resolve(req.Source, req.Target)
	if err != nil {
		return Result{}, r.fail(router.ErrNoRoute, err)
	}
	span.SetAttributes(attribute.String("route", route.String()))

	r.enter(Translating)
	var translated string
	err = o.stage(ctx, Translating, func(ctx context.Context) error {
		translated, err = o.translator.Translate(ctx, transcript, route)
		return err
	})
	if err != nil {
		return Result{}, r.fail(ErrTranslationFailed, err)
	}

	r.enter(Synthesizing)
	var output audio.Buffer
	err = o.stage(ctx, Synthesizing, func(ctx context.Context) error {
		output, err = o.tts.Synthesize(ctx, translated)
		if err != nil {
			return err
		}
		if err := audio.WriteFile(req.OutputPath, output); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		return nil
	})
	if err != nil {
		return Result{}, r.fail(ErrSynthesisFailed, err)
	}

	r.enter(Done)
	log.Info("translation complete",
		slog.String("route", route.String()),
		slog.Duration("output_duration", output.Duration()),
	)
	return Result{
		RequestID:      req.ID,
		SourceText:     transcript,
		TranslatedText: translated,
		OutputPath:     req.OutputPath,
		Route:          route,
		OutputDuration: output.Duration(),
	}, nil
}

func (o *Orchestrator) stage(ctx context.Context, state State, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "s2s."+state.String())
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	if o.stageDur != nil {
		o.stageDur.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("stage", state.String())))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *run) lastStage(err error) string {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage.String()
	}
	return r.state.String()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
