package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-s2s/internal/audio"
	"github.com/mattn/go-shellwords"
)

type piperSynth struct {
	cmd        []string
	sampleRate int
	mu         sync.Mutex
}

// NewPiperSynth drives the Piper CLI. The voice is passed as --model and the
// raw 16-bit mono output is read from stdout at sampleRate, which must match
// the voice.
func NewPiperSynth(command string, sampleRate int) (Synthesizer, error) {
	if strings.TrimSpace(command) == "" {
		command = "piper"
	}
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse piper command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("piper command empty")
	}
	return &piperSynth{cmd: args, sampleRate: sampleRate}, nil
}

func (p *piperSynth) args(req SynthRequest) []string {
	args := append([]string{}, p.cmd[1:]...)
	if req.Voice != "" {
		args = append(args, "--model", req.Voice)
	}
	if req.Rate > 0 {
		args = append(args, "--length_scale", strconv.FormatFloat(1/req.Rate, 'f', 3, 64))
	}
	return append(args, "--output-raw")
}

func (p *piperSynth) Synthesize(ctx context.Context, req SynthRequest) (audio.Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cmd := exec.CommandContext(ctx, p.cmd[0], p.args(req)...)
	cmd.Stdin = strings.NewReader(req.Text + "\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return audio.Buffer{}, fmt.Errorf("piper failed: %w: %s", err, stderr.String())
	}
	return audio.FromPCM16(stdout.Bytes(), p.sampleRate), nil
}
