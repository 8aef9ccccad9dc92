package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/loqalabs/loqa-s2s/internal/audio"
	"github.com/loqalabs/loqa-s2s/internal/config"
	"github.com/loqalabs/loqa-s2s/internal/language"
	"github.com/loqalabs/loqa-s2s/internal/modelcache"
	"github.com/loqalabs/loqa-s2s/internal/mt"
	"github.com/loqalabs/loqa-s2s/internal/router"
	"github.com/loqalabs/loqa-s2s/internal/stt"
	"github.com/loqalabs/loqa-s2s/internal/tts"
)

type fakeRecognizer struct {
	text  string
	calls atomic.Int32
}

func (f *fakeRecognizer) Transcribe(context.Context, audio.Buffer, language.Code) (stt.TranscriptResult, error) {
	f.calls.Add(1)
	return stt.TranscriptResult{Text: f.text}, nil
}

type dictEngine struct {
	id    string
	dict  map[string]string
	err   error
	calls *calls
}

type calls struct {
	mu   sync.Mutex
	list []string
}

func (c *calls) add(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list = append(c.list, s)
}

func (c *calls) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.list...)
}

func (d *dictEngine) Translate(_ context.Context, text string) (string, error) {
	d.calls.add(d.id)
	if d.err != nil {
		return "", d.err
	}
	if out, ok := d.dict[text]; ok {
		return out, nil
	}
	return "?", nil
}

type failingSynth struct{ err error }

func (f failingSynth) Synthesize(context.Context, tts.SynthRequest) (audio.Buffer, error) {
	return audio.Buffer{}, f.err
}

type fixture struct {
	orch       *Orchestrator
	recognizer *fakeRecognizer
	mtCalls    *calls
	failing    map[string]error
	dir        string
	input      string
}

var dictionary = map[string]map[string]string{
	"Helsinki-NLP/opus-mt-hi-en": {"नमस्ते दुनिया": "Hello world"},
	"Helsinki-NLP/opus-mt-ta-en": {"வணக்கம் உலகம்": "Hello world"},
	"Helsinki-NLP/opus-mt-en-kn": {"Hello world": "ನಮಸ್ಕಾರ ಜಗತ್ತು"},
	"Helsinki-NLP/opus-mt-en-hi": {"Hello world": "नमस्ते दुनिया"},
}

type fixtureOptions struct {
	registry   *language.Registry
	transcript string
	synth      tts.Synthesizer
	mtLoader   mt.Loader
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	f := &fixture{
		recognizer: &fakeRecognizer{text: opts.transcript},
		mtCalls:    &calls{},
		failing:    map[string]error{},
		dir:        t.TempDir(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.registry == nil {
		opts.registry = language.Default()
	}
	if opts.synth == nil {
		opts.synth = tts.NewMockSynth(16000)
	}
	if opts.mtLoader == nil {
		opts.mtLoader = mt.LoaderFunc(func(_ context.Context, m language.Model) (mt.Engine, error) {
			return &dictEngine{id: m.ID, dict: dictionary[m.ID], err: f.failing[m.ID], calls: f.mtCalls}, nil
		})
	}

	asrCache, err := modelcache.New[stt.Recognizer](4, logger)
	if err != nil {
		t.Fatal(err)
	}
	mtCache, err := modelcache.New[mt.Engine](8, logger)
	if err != nil {
		t.Fatal(err)
	}
	asrLoader := stt.LoaderFunc(func(context.Context, stt.ModelSize) (stt.Recognizer, error) { return f.recognizer, nil })

	f.orch = New(Options{
		Registry:   opts.registry,
		Decoder:    audio.Decoder{SampleRate: 16000},
		ASR:        stt.NewService(asrLoader, asrCache, logger),
		Translator: mt.NewTranslator(opts.mtLoader, mtCache, logger),
		TTS:        tts.NewService(config.TTSConfig{SampleRate: 16000}, opts.synth, logger),
		Logger:     logger,
	})

	f.input = filepath.Join(f.dir, "input.wav")
	samples := make([]float32, 8000)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*300*float64(i)/16000))
	}
	if err := audio.WriteFile(f.input, audio.Buffer{SampleRate: 16000, Samples: samples}); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) request(src, tgt language.Code) Request {
	return Request{InputPath: f.input, Source: src, Target: tgt, OutputPath: filepath.Join(f.dir, "out", "out.wav")}
}

func recordTransitions() (*[]Transition, Observer) {
	var got []Transition
	return &got, ObserverFunc(func(t Transition) { got = append(got, t) })
}

func states(ts []Transition) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.From.String() + ">" + t.To.String()
	}
	return strings.Join(parts, ",")
}

func TestHindiToEnglishDirect(t *testing.T) {
	f := newFixture(t, fixtureOptions{transcript: "नमस्ते दुनिया"})
	got, obs := recordTransitions()

	res, err := f.orch.RunFile(context.Background(), f.request("hi", "en"), obs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.SourceText != "नमस्ते दुनिया" || res.TranslatedText != "Hello world" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Route.Kind != router.Direct || res.RequestID == "" {
		t.Fatalf("unexpected route or id: %s %q", res.Route, res.RequestID)
	}
	if res.OutputDuration <= 0 {
		t.Fatal("expected audible output")
	}
	if _, err := os.Stat(res.OutputPath); err != nil {
		t.Fatalf("expected output file: %v", err)
	}
	want := "idle>transcribing,transcribing>routing,routing>translating,translating>synthesizing,synthesizing>done"
	if states(*got) != want {
		t.Fatalf("unexpected transitions %s", states(*got))
	}
	for _, tr := range *got {
		if tr.RequestID != res.RequestID {
			t.Fatalf("transition for wrong request %q", tr.RequestID)
		}
	}
}

func TestTamilToKannadaPivot(t *testing.T) {
	f := newFixture(t, fixtureOptions{transcript: "வணக்கம் உலகம்"})
	res, err := f.orch.RunFile(context.Background(), f.request("ta", "kn"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Route.Kind != router.Pivot {
		t.Fatalf("expected pivot route, got %s", res.Route)
	}
	if got := f.mtCalls.snapshot(); strings.Join(got, ",") != "Helsinki-NLP/opus-mt-ta-en,Helsinki-NLP/opus-mt-en-kn" {
		t.Fatalf("unexpected translation calls %v", got)
	}
	if res.TranslatedText != "ನಮಸ್ಕಾರ ಜಗತ್ತು" || strings.Contains(res.TranslatedText, "Hello") {
		t.Fatalf("unexpected translation %q", res.TranslatedText)
	}
}

func TestUnknownLanguageFailsBeforeAnyWork(t *testing.T) {
	f := newFixture(t, fixtureOptions{transcript: "anything"})
	got, obs := recordTransitions()
	req := f.request("xx", "en")

	_, err := f.orch.RunFile(context.Background(), req, obs)
	if !errors.Is(err, language.ErrUnknownLanguage) {
		t.Fatalf("expected unknown language, got %v", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != Idle {
		t.Fatalf("expected failure at idle, got %v", err)
	}
	if f.recognizer.calls.Load() != 0 || len(f.mtCalls.snapshot()) != 0 {
		t.Fatal("no model may run for an unknown language")
	}
	if _, err := os.Stat(req.OutputPath); !os.IsNotExist(err) {
		t.Fatalf("expected no output file, got %v", err)
	}
	if states(*got) != "idle>failed" {
		t.Fatalf("unexpected transitions %s", states(*got))
	}
	if KindName(err) != "unknown_language" {
		t.Fatalf("unexpected kind %q", KindName(err))
	}
}

func TestNoRouteFailsAtRouting(t *testing.T) {
	reg, err := language.New(
		[]language.Language{{Code: "en", Name: "English"}, {Code: "hi", Name: "Hindi"}, {Code: "sa", Name: "Sanskrit"}},
		[]language.Model{{ID: "Helsinki-NLP/opus-mt-hi-en", Source: "hi", Target: "en"}},
	)
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, fixtureOptions{registry: reg, transcript: "नमस्ते दुनिया"})
	req := f.request("hi", "sa")

	_, err = f.orch.RunFile(context.Background(), req)
	var noRoute *router.NoRouteError
	if !errors.Is(err, router.ErrNoRoute) || !errors.As(err, &noRoute) {
		t.Fatalf("expected no route error, got %v", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != Routing {
		t.Fatalf("expected failure at routing, got %v", err)
	}
	if len(f.mtCalls.snapshot()) != 0 {
		t.Fatal("no translation call may happen without a route")
	}
	if _, err := os.Stat(req.OutputPath); !os.IsNotExist(err) {
		t.Fatal("expected no output file")
	}
}

func TestEmptyTranscriptProducesSilentOutput(t *testing.T) {
	f := newFixture(t, fixtureOptions{transcript: "   "})
	res, err := f.orch.RunFile(context.Background(), f.request("hi", "ta"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.SourceText != "" || res.TranslatedText != "" || res.OutputDuration != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(f.mtCalls.snapshot()) != 0 {
		t.Fatal("empty transcript must not reach a translation model")
	}
	info, err := os.Stat(res.OutputPath)
	if err != nil || info.Size() != 44 {
		t.Fatalf("expected header-only wav, got %v %v", info, err)
	}
}

func TestTranslationFailureLeavesNoOutput(t *testing.T) {
	f := newFixture(t, fixtureOptions{transcript: "வணக்கம் உலகம்"})
	f.failing["Helsinki-NLP/opus-mt-en-kn"] = errors.New("model crashed")
	req := f.request("ta", "kn")

	_, err := f.orch.RunFile(context.Background(), req)
	if !errors.Is(err, ErrTranslationFailed) {
		t.Fatalf("expected translation failure, got %v", err)
	}
	var mtErr *mt.Error
	if !errors.As(err, &mtErr) || mtErr.Stage != mt.StageFromPivot {
		t.Fatalf("expected second leg failure, got %v", err)
	}
	if _, err := os.Stat(req.OutputPath); !os.IsNotExist(err) {
		t.Fatal("expected no output file")
	}
}

func TestTranscriptionFailure(t *testing.T) {
	f := newFixture(t, fixtureOptions{transcript: "x"})
	req := f.request("hi", "en")
	req.InputPath = filepath.Join(f.dir, "missing.wav")
	_, err := f.orch.RunFile(context.Background(), req)
	var stageErr *StageError
	if !errors.Is(err, ErrTranscriptionFailed) || !errors.As(err, &stageErr) || stageErr.Stage != Transcribing {
		t.Fatalf("expected transcription failure, got %v", err)
	}
}

func TestSynthesisFailureLeavesNoOutput(t *testing.T) {
	boom := errors.New("voice missing")
	f := newFixture(t, fixtureOptions{transcript: "नमस्ते दुनिया", synth: failingSynth{err: boom}})
	req := f.request("hi", "en")
	_, err := f.orch.RunFile(context.Background(), req)
	if !errors.Is(err, ErrSynthesisFailed) || !errors.Is(err, boom) {
		t.Fatalf("expected synthesis failure, got %v", err)
	}
	if _, err := os.Stat(req.OutputPath); !os.IsNotExist(err) {
		t.Fatal("expected no output file")
	}
}

func TestIdentityRoute(t *testing.T) {
	f := newFixture(t, fixtureOptions{transcript: "ಕನ್ನಡ"})
	res, err := f.orch.RunFile(context.Background(), f.request("kn", "kn"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Route.Kind != router.Identity || res.TranslatedText != "ಕನ್ನಡ" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(f.mtCalls.snapshot()) != 0 {
		t.Fatal("identity route must not call a model")
	}
}

func TestRoundTripHindiEnglishHindi(t *testing.T) {
	f := newFixture(t, fixtureOptions{transcript: "नमस्ते दुनिया"})
	first, err := f.orch.RunFile(context.Background(), f.request("hi", "en"))
	if err != nil {
		t.Fatal(err)
	}

	back := newFixture(t, fixtureOptions{transcript: first.TranslatedText})
	req := back.request("en", "hi")
	req.InputPath = first.OutputPath
	res, err := back.orch.RunFile(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.TranslatedText == "" || res.OutputDuration <= 0 {
		t.Fatalf("round trip produced nothing: %+v", res)
	}
}

func TestConcurrentRequestsAreIndependent(t *testing.T) {
	f := newFixture(t, fixtureOptions{transcript: "வணக்கம் உலகம்"})
	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := f.request("ta", "kn")
			req.OutputPath = filepath.Join(f.dir, "out", string(rune('a'+i))+".wav")
			res, err := f.orch.RunFile(context.Background(), req)
			if err == nil && res.TranslatedText != "ನಮಸ್ಕಾರ ಜಗತ್ತು" {
				err = errors.New("unexpected translation " + res.TranslatedText)
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestFromConfigWithMockBackends(t *testing.T) {
	cfg := config.Default()
	orch, err := FromConfig(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	input := filepath.Join(dir, "in.wav")
	if err := audio.WriteFile(input, audio.Buffer{SampleRate: 16000, Samples: make([]float32, 1600)}); err != nil {
		t.Fatal(err)
	}
	res, err := orch.RunFile(context.Background(), Request{InputPath: input, Source: "hi", Target: "kn", OutputPath: filepath.Join(dir, "out.wav")})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(res.TranslatedText, "[kn] ") || strings.Contains(res.TranslatedText, "[en]") {
		t.Fatalf("unexpected mock translation %q", res.TranslatedText)
	}
}

type closingEngine struct {
	*dictEngine
	closed *atomic.Int32
}

func (c closingEngine) Close() error {
	c.closed.Add(1)
	return nil
}

func TestCloseUnloadsModels(t *testing.T) {
	var closed, loads atomic.Int32
	var f *fixture
	f = newFixture(t, fixtureOptions{
		transcript: "नमस्ते दुनिया",
		mtLoader: mt.LoaderFunc(func(_ context.Context, m language.Model) (mt.Engine, error) {
			loads.Add(1)
			return closingEngine{dictEngine: &dictEngine{id: m.ID, dict: dictionary[m.ID], calls: f.mtCalls}, closed: &closed}, nil
		}),
	})

	if _, err := f.orch.RunFile(context.Background(), f.request("hi", "en")); err != nil {
		t.Fatalf("run: %v", err)
	}
	f.orch.Close()
	if closed.Load() != 1 {
		t.Fatalf("expected the loaded engine to be closed, got %d", closed.Load())
	}

	if _, err := f.orch.RunFile(context.Background(), f.request("hi", "en")); err != nil {
		t.Fatalf("run after close: %v", err)
	}
	if loads.Load() != 2 {
		t.Fatalf("expected the model to be reloaded, got %d loads", loads.Load())
	}
}
