// Package audio converts between audio files and the mono float buffers the
// model runtimes consume and produce.
package audio

import (
	"fmt"
	"time"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Buffer is mono PCM with samples in [-1, 1]. Buffers are not mutated after
// they are handed to another component.
type Buffer struct {
	SampleRate int
	Samples    []float32
}

// Empty reports whether the buffer holds no samples.
func (b Buffer) Empty() bool { return len(b.Samples) == 0 }

func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// Resample returns a copy of b at rate. The conversion is deterministic.
func Resample(b Buffer, rate int) (Buffer, error) {
	if rate <= 0 {
		return Buffer{}, fmt.Errorf("invalid target sample rate %d", rate)
	}
	if b.SampleRate == rate || b.Empty() {
		return Buffer{SampleRate: rate, Samples: append([]float32(nil), b.Samples...)}, nil
	}
	if b.SampleRate <= 0 {
		return Buffer{}, fmt.Errorf("invalid source sample rate %d", b.SampleRate)
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(b.SampleRate),
		OutputRate: float64(rate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return Buffer{}, fmt.Errorf("create resampler: %w", err)
	}
	input := make([]float64, len(b.Samples))
	for i, s := range b.Samples {
		input[i] = float64(s)
	}
	output, err := r.Process(input)
	if err != nil {
		return Buffer{}, fmt.Errorf("resample %d->%d: %w", b.SampleRate, rate, err)
	}
	samples := make([]float32, len(output))
	for i, s := range output {
		samples[i] = clamp(float32(s))
	}
	return Buffer{SampleRate: rate, Samples: samples}, nil
}

// Mix averages interleaved frames of the given channel count into mono.
func Mix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(interleaved))
		for i, s := range interleaved {
			out[i] = clamp(s)
		}
		return out
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[f*channels+c]
		}
		out[f] = clamp(sum / float32(channels))
	}
	return out
}

func clamp(s float32) float32 {
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	default:
		return s
	}
}
