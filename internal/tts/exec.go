package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/loqalabs/loqa-s2s/internal/audio"
	"github.com/mattn/go-shellwords"
)

type execSynth struct {
	cmd        []string
	sampleRate int
	mu         sync.Mutex
}

type execRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice,omitempty"`
	Rate       float64 `json:"rate,omitempty"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

// NewExecSynth runs command per request. The command reads one JSON request
// on stdin and prints newline-delimited chunks of base64 16-bit mono PCM.
func NewExecSynth(command string, sampleRate int) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args, sampleRate: sampleRate}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (audio.Buffer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(execRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		Rate:       req.Rate,
		SampleRate: e.sampleRate,
		Channels:   1,
	})
	if err != nil {
		return audio.Buffer{}, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return audio.Buffer{}, err
	}
	if err := cmd.Start(); err != nil {
		return audio.Buffer{}, fmt.Errorf("start tts command: %w", err)
	}

	pcm, readErr := readChunks(stdout)
	if readErr != nil {
		_ = cmd.Process.Kill()
	}
	// Output after the final chunk, or from a killed backend's children, is
	// discarded so Wait never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()
	if readErr != nil {
		return audio.Buffer{}, readErr
	}
	if waitErr != nil {
		return audio.Buffer{}, fmt.Errorf("tts command failed: %w: %s", waitErr, stderr.String())
	}
	return audio.FromPCM16(pcm, e.sampleRate), nil
}

// readChunks collects PCM until a chunk marked final or end of output.
func readChunks(r io.Reader) ([]byte, error) {
	var pcm []byte
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("decode tts chunk: %w", err)
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			return nil, fmt.Errorf("decode tts pcm: %w", err)
		}
		pcm = append(pcm, chunk...)
		if resp.Final {
			return pcm, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read tts output: %w", err)
	}
	return pcm, nil
}
