package audio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV writes buf as a 16-bit PCM mono WAV. An empty buffer produces a
// header-only file.
func EncodeWAV(w io.WriteSeeker, buf Buffer) error {
	if buf.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", buf.SampleRate)
	}
	data := make([]int, len(buf.Samples))
	for i, s := range buf.Samples {
		data[i] = int(toInt16(s))
	}
	pcm := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: buf.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(w, buf.SampleRate, 16, 1, 1)
	if err := enc.Write(pcm); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WriteFile encodes buf to path. The file appears only once it is complete.
func WriteFile(path string, buf Buffer) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".loqa_s2s_*.wav")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := EncodeWAV(tmp, buf); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename output: %w", err)
	}
	committed = true
	return nil
}
