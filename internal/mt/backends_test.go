package mt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-s2s/internal/config"
	"github.com/loqalabs/loqa-s2s/internal/language"
)

var hiEn = language.Model{ID: "Helsinki-NLP/opus-mt-hi-en", Source: "hi", Target: "en"}

func TestOllamaEngineStreams(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, `{"response":"Hello","done":false}`)
		fmt.Fprintln(w, `{"response":" world","done":false}`)
		fmt.Fprintln(w, `{"response":"","done":true}`)
	}))
	defer srv.Close()

	loader, err := NewLoader(config.MTConfig{Mode: "ollama", Endpoint: srv.URL + "/", Model: "llama3.2:latest"}, language.Default())
	if err != nil {
		t.Fatal(err)
	}
	engine, err := loader.Load(context.Background(), hiEn)
	if err != nil {
		t.Fatal(err)
	}
	out, err := engine.Translate(context.Background(), "नमस्ते दुनिया")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if out != "Hello world" {
		t.Fatalf("unexpected output %q", out)
	}
	if got.Prompt != "नमस्ते दुनिया" || !strings.Contains(got.System, "Hindi") || !strings.Contains(got.System, "English") {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestOllamaEngineStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such model", http.StatusNotFound)
	}))
	defer srv.Close()

	engine := NewOllamaEngine(config.MTConfig{Endpoint: srv.URL}, prompt{system: "x"})
	if _, err := engine.Translate(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for non-2xx status")
	}
}

func TestOpenAIEngineChat(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  Hello world "},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	loader, err := NewLoader(config.MTConfig{Mode: "openai", Endpoint: srv.URL + "/v1"}, language.Default())
	if err != nil {
		t.Fatal(err)
	}
	engine, err := loader.Load(context.Background(), hiEn)
	if err != nil {
		t.Fatal(err)
	}
	out, err := engine.Translate(context.Background(), "नमस्ते दुनिया")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if strings.TrimSpace(out) != "Hello world" {
		t.Fatalf("unexpected output %q", out)
	}
	if got.Model != hiEn.ID || len(got.Messages) != 2 || got.Messages[1].Content != "नमस्ते दुनिया" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestExecEngine(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "translate.sh")
	body := "#!/bin/sh\ncat > " + filepath.Join(dir, "request.json") + "\necho '{\"translation\":\"Hello\"}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	engine, err := NewExecEngine(script, hiEn, 128)
	if err != nil {
		t.Fatal(err)
	}
	out, err := engine.Translate(context.Background(), "नमस्ते")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if out != "Hello" {
		t.Fatalf("unexpected output %q", out)
	}

	data, err := os.ReadFile(filepath.Join(dir, "request.json"))
	if err != nil {
		t.Fatal(err)
	}
	var req execRequest
	if err := json.Unmarshal(data, &req); err != nil {
		t.Fatal(err)
	}
	if req.Model != hiEn.ID || req.Text != "नमस्ते" || req.MaxLength != 128 || req.Target != "en" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestExecEngineRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecEngine("   ", hiEn, 0); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestNewLoaderUnknownMode(t *testing.T) {
	if _, err := NewLoader(config.MTConfig{Mode: "telepathy"}, language.Default()); err == nil {
		t.Fatal("expected error")
	}
}

func TestPromptBackendsRejectUnknownLanguage(t *testing.T) {
	loader, err := NewLoader(config.MTConfig{Mode: "ollama"}, language.Default())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := loader.Load(context.Background(), language.Model{ID: "x", Source: "xx", Target: "en"}); err == nil {
		t.Fatal("expected unknown language error")
	}
}
