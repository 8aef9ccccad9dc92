package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-s2s/internal/config"
	"github.com/loqalabs/loqa-s2s/internal/workers"
)

func testRuntime(t *testing.T, jobs bool) *Runtime {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Web.UploadDir = filepath.Join(dir, "uploads")
	cfg.Web.OutputDir = filepath.Join(dir, "outputs")
	cfg.Jobs.Enabled = jobs
	cfg.Bus.Host = "127.0.0.1"
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = filepath.Join(dir, "nats")

	r := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), "test")
	if err := r.build(context.Background()); err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(r.close)
	return r
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	r := testRuntime(t, false)
	h := r.routes()

	if rec := get(t, h, "/healthz"); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(t, h, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before start: %d", rec.Code)
	}
	r.ready.Store(true)
	if rec := get(t, h, "/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("readyz after start: %d", rec.Code)
	}
}

func TestWebSurfaceMounted(t *testing.T) {
	r := testRuntime(t, false)
	rec := get(t, r.routes(), "/api/languages")
	if rec.Code != http.StatusOK {
		t.Fatalf("languages: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "hi") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestJobsWiredToEmbeddedBus(t *testing.T) {
	r := testRuntime(t, true)
	if r.bus == nil || r.jobs == nil || r.nats == nil || r.workers == nil {
		t.Fatal("expected bus, jobs and embedded server to be wired")
	}
	r.ready.Store(true)
	if rec := get(t, r.routes(), "/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("readyz with jobs: %d", rec.Code)
	}

	rec := get(t, r.routes(), "/api/workers?lang=hi&lang=en")
	if rec.Code != http.StatusOK {
		t.Fatalf("workers: %d", rec.Code)
	}
	var list []workers.Worker
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != r.workers.ID() || list[0].ASR != "mock" {
		t.Fatalf("unexpected workers %+v", list)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
