package mt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/loqalabs/loqa-s2s/internal/language"
	"github.com/mattn/go-shellwords"
)

type execEngine struct {
	cmd       []string
	model     language.Model
	maxLength int
	mu        sync.Mutex
}

type execRequest struct {
	Model     string `json:"model"`
	Source    string `json:"source"`
	Target    string `json:"target"`
	Text      string `json:"text"`
	MaxLength int    `json:"max_length,omitempty"`
}

type execResponse struct {
	Translation string `json:"translation"`
}

// NewExecEngine runs command per call, writing a JSON request on stdin and
// reading {"translation": "..."} from stdout.
func NewExecEngine(command string, model language.Model, maxLength int) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse mt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("mt command empty")
	}
	return &execEngine{cmd: args, model: model, maxLength: maxLength}, nil
}

func (e *execEngine) Translate(ctx context.Context, text string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	input, err := json.Marshal(execRequest{
		Model:     e.model.ID,
		Source:    string(e.model.Source),
		Target:    string(e.model.Target),
		Text:      text,
		MaxLength: e.maxLength,
	})
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("mt exec command failed: %w: %s", err, stderr.String())
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return "", fmt.Errorf("decode mt exec response: %w", err)
	}
	return resp.Translation, nil
}
