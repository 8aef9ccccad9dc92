package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-s2s/internal/audio"
	"github.com/loqalabs/loqa-s2s/internal/language"
	"github.com/loqalabs/loqa-s2s/internal/router"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRoot()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeInput(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "in.wav")
	samples := make([]float32, 8000)
	for i := range samples {
		samples[i] = 0.1
	}
	if err := audio.WriteFile(path, audio.Buffer{SampleRate: 16000, Samples: samples}); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "loqa-s2s.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranslatePrintsTranscriptAndOutput(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir)
	outPath := filepath.Join(dir, "kn.wav")

	out, err := execute(t, "translate", "--in", in, "--src", "ta", "--tgt", "kn", "--out", outPath, "--asr", "tiny")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected three lines, got %q", out)
	}
	if lines[0] != "ASR (L1): [ta transcript 500ms]" {
		t.Fatalf("unexpected ASR line %q", lines[0])
	}
	if lines[1] != "Translation (L2): [kn] [ta transcript 500ms]" {
		t.Fatalf("unexpected translation line %q", lines[1])
	}
	if lines[2] != "Saved L2 audio to: "+outPath {
		t.Fatalf("unexpected saved line %q", lines[2])
	}
	if _, err := os.Stat(outPath); err != nil {
		t.Fatalf("expected output file: %v", err)
	}
}

func TestTranslateUnknownLanguage(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir)
	outPath := filepath.Join(dir, "out.wav")

	_, err := execute(t, "translate", "--in", in, "--src", "xx", "--tgt", "en", "--out", outPath)
	if !errors.Is(err, language.ErrUnknownLanguage) {
		t.Fatalf("expected unknown language, got %v", err)
	}
	if _, statErr := os.Stat(outPath); !os.IsNotExist(statErr) {
		t.Fatal("no output expected on failure")
	}
}

func TestTranslateRejectsBadModelSize(t *testing.T) {
	dir := t.TempDir()
	if _, err := execute(t, "translate", "--in", writeInput(t, dir), "--src", "hi", "--tgt", "en", "--asr", "huge"); err == nil {
		t.Fatal("expected error for unknown asr size")
	}
}

func TestTranslateRequiresFlags(t *testing.T) {
	if _, err := execute(t, "translate", "--src", "hi"); err == nil {
		t.Fatal("expected missing flag error")
	}
}

func TestRouteCommand(t *testing.T) {
	out, err := execute(t, "route", "--src", "ta", "--tgt", "kn")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !strings.HasPrefix(out, "ta -> kn: pivot\n") {
		t.Fatalf("unexpected output %q", out)
	}
	if strings.Count(out, "\n") != 3 {
		t.Fatalf("expected two hops, got %q", out)
	}

	out, err = execute(t, "route", "--src", "hi", "--tgt", "en")
	if err != nil || !strings.HasPrefix(out, "hi -> en: direct\n") {
		t.Fatalf("unexpected direct route %q (%v)", out, err)
	}
}

func TestRouteCommandNoRoute(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, `
languages:
  names:
    en: English
    hi: Hindi
    ta: Tamil
  models:
    - {source: hi, target: en, id: hi-en}
`)
	_, err := execute(t, "--config", cfg, "route", "--src", "ta", "--tgt", "hi")
	if !errors.Is(err, router.ErrNoRoute) {
		t.Fatalf("expected no route, got %v", err)
	}
}

func TestLanguagesCommand(t *testing.T) {
	out, err := execute(t, "languages")
	if err != nil {
		t.Fatalf("languages: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != len(language.Default().Languages())+1 {
		t.Fatalf("unexpected line count %d:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "CODE") {
		t.Fatalf("missing header: %q", lines[0])
	}
}

func TestHistoryRequiresPersistentStore(t *testing.T) {
	if _, err := execute(t, "history"); err == nil {
		t.Fatal("expected error for ephemeral store")
	}
}

func TestHistoryListsJournaledRuns(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, fmt.Sprintf(`
event_store:
  retention_mode: persistent
  path: %s
`, filepath.Join(dir, "runs.db")))
	in := writeInput(t, dir)

	if _, err := execute(t, "--config", cfg, "translate", "--in", in, "--src", "hi", "--tgt", "en", "--out", filepath.Join(dir, "en.wav")); err != nil {
		t.Fatalf("translate: %v", err)
	}

	out, err := execute(t, "--config", cfg, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "done") {
		t.Fatalf("unexpected history:\n%s", out)
	}
	id := strings.Fields(lines[1])[0]

	out, err = execute(t, "--config", cfg, "history", id)
	if err != nil {
		t.Fatalf("history %s: %v", id, err)
	}
	if !strings.Contains(out, "synthesizing") || !strings.Contains(out, "done") {
		t.Fatalf("unexpected events:\n%s", out)
	}

	if _, err := execute(t, "--config", cfg, "history", "missing"); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil || strings.TrimSpace(out) != version {
		t.Fatalf("unexpected version output %q (%v)", out, err)
	}
}
