package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/loqalabs/loqa-s2s/internal/audio"
	"github.com/loqalabs/loqa-s2s/internal/config"
	"github.com/loqalabs/loqa-s2s/internal/language"
	"github.com/mattn/go-shellwords"
)

type execRecognizer struct {
	cmd   []string
	model string
	mu    sync.Mutex
}

type execResult struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// NewExecRecognizer runs cfg.Command once per transcription with the input
// written to a temporary WAV file. The command prints a JSON result.
func NewExecRecognizer(cfg config.ASRConfig, size ModelSize) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse asr command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("asr command is empty")
	}
	return &execRecognizer{cmd: args, model: modelPath(cfg, size)}, nil
}

// modelPath resolves the weights for a size: an explicit model wins, then
// ggml-<size>.bin under ModelDir, then the bare size name.
func modelPath(cfg config.ASRConfig, size ModelSize) string {
	switch {
	case cfg.Model != "":
		return cfg.Model
	case cfg.ModelDir != "":
		return filepath.Join(cfg.ModelDir, "ggml-"+string(size)+".bin")
	default:
		return string(size)
	}
}

func (r *execRecognizer) Transcribe(ctx context.Context, buf audio.Buffer, hint language.Code) (TranscriptResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.CreateTemp("", "loqa_asr_*.wav")
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.EncodeWAV(file, buf); err != nil {
		return TranscriptResult{}, err
	}

	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name(), "--model", r.model)
	if hint != "" {
		cmdArgs = append(cmdArgs, "--language", string(hint))
	}

	command := exec.CommandContext(ctx, r.cmd[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return TranscriptResult{}, fmt.Errorf("asr command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return TranscriptResult{}, fmt.Errorf("decode asr response: %w", err)
	}
	return TranscriptResult{Text: resp.Text, Language: resp.Language, Confidence: resp.Confidence}, nil
}
