package mt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-s2s/internal/config"
)

type ollamaEngine struct {
	endpoint    string
	model       string
	prompt      prompt
	temperature float64
	maxLength   int
	client      *http.Client
}

// NewOllamaEngine translates by prompting a model served by Ollama.
func NewOllamaEngine(cfg config.MTConfig, p prompt) Engine {
	model := cfg.Model
	if model == "" {
		model = "llama3.2:latest"
	}
	return &ollamaEngine{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		model:       model,
		prompt:      p,
		temperature: cfg.Temperature,
		maxLength:   cfg.MaxLength,
		client:      http.DefaultClient,
	}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaStreamResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (g *ollamaEngine) Translate(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(ollamaRequest{
		Model:  g.model,
		Prompt: text,
		System: g.prompt.system,
		Stream: true,
		Options: ollamaOptions{
			Temperature: g.temperature,
			NumPredict:  g.maxLength,
		},
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama returned status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	var out strings.Builder
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("decode ollama chunk: %w", err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("ollama: %s", chunk.Error)
		}
		out.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return out.String(), nil
}
