package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

// ErrUnsupportedFormat is returned for containers with no native decoder when
// no ffmpeg binary is configured.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

type format int

const (
	formatUnknown format = iota
	formatWAV
	formatFLAC
	formatMP3
)

// Decoder reads an audio file into a mono Buffer at SampleRate. WAV, FLAC and
// MP3 are decoded natively; anything else goes through FFmpeg when set.
type Decoder struct {
	SampleRate int
	FFmpeg     string
}

func (d Decoder) Decode(ctx context.Context, path string) (Buffer, error) {
	file, err := os.Open(path)
	if err != nil {
		return Buffer{}, fmt.Errorf("open audio: %w", err)
	}
	defer file.Close()

	header := make([]byte, 12)
	n, err := io.ReadFull(file, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Buffer{}, fmt.Errorf("read audio header: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return Buffer{}, fmt.Errorf("rewind audio: %w", err)
	}

	var buf Buffer
	switch detect(header[:n]) {
	case formatWAV:
		buf, err = decodeWAV(file)
	case formatFLAC:
		buf, err = decodeFLAC(file)
	case formatMP3:
		buf, err = decodeMP3(file)
	default:
		if d.FFmpeg == "" {
			return Buffer{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
		}
		return d.decodeFFmpeg(ctx, path)
	}
	if err != nil {
		return Buffer{}, err
	}
	if d.SampleRate <= 0 {
		return buf, nil
	}
	return Resample(buf, d.SampleRate)
}

func detect(header []byte) format {
	switch {
	case len(header) >= 12 && bytes.Equal(header[0:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE")):
		return formatWAV
	case len(header) >= 4 && bytes.Equal(header[0:4], []byte("fLaC")):
		return formatFLAC
	case len(header) >= 3 && bytes.Equal(header[0:3], []byte("ID3")):
		return formatMP3
	case len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0:
		return formatMP3
	default:
		return formatUnknown
	}
}

func decodeWAV(r io.ReadSeeker) (Buffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Buffer{}, fmt.Errorf("%w: invalid wav file", ErrUnsupportedFormat)
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return Buffer{}, fmt.Errorf("decode wav: %w", err)
	}
	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}
	channels := 1
	rate := int(dec.SampleRate)
	if pcm.Format != nil {
		channels = pcm.Format.NumChannels
		rate = pcm.Format.SampleRate
	}

	scale := float32(int64(1) << (depth - 1))
	interleaved := make([]float32, len(pcm.Data))
	for i, v := range pcm.Data {
		if depth == 8 {
			interleaved[i] = float32(v-128) / 128
			continue
		}
		interleaved[i] = float32(v) / scale
	}
	return Buffer{SampleRate: rate, Samples: Mix(interleaved, channels)}, nil
}

func decodeFLAC(r io.Reader) (Buffer, error) {
	stream, err := flac.New(r)
	if err != nil {
		return Buffer{}, fmt.Errorf("decode flac: %w", err)
	}
	defer stream.Close()

	channels := int(stream.Info.NChannels)
	scale := float32(int64(1) << (stream.Info.BitsPerSample - 1))
	var samples []float32
	for {
		frame, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Buffer{}, fmt.Errorf("decode flac frame: %w", err)
		}
		if len(frame.Subframes) == 0 {
			continue
		}
		n := len(frame.Subframes[0].Samples)
		for i := 0; i < n; i++ {
			var sum float32
			for _, sub := range frame.Subframes {
				sum += float32(sub.Samples[i]) / scale
			}
			samples = append(samples, clamp(sum/float32(channels)))
		}
	}
	return Buffer{SampleRate: int(stream.Info.SampleRate), Samples: samples}, nil
}

func decodeMP3(r io.Reader) (Buffer, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return Buffer{}, fmt.Errorf("decode mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return Buffer{}, fmt.Errorf("decode mp3: %w", err)
	}
	// go-mp3 always yields 16-bit little-endian stereo.
	return Buffer{SampleRate: dec.SampleRate(), Samples: Mix(pcm16(raw), 2)}, nil
}

func (d Decoder) decodeFFmpeg(ctx context.Context, path string) (Buffer, error) {
	rate := d.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	cmd := exec.CommandContext(ctx, d.FFmpeg,
		"-nostdin", "-loglevel", "error",
		"-i", path,
		"-f", "s16le", "-ac", "1", "-ar", fmt.Sprint(rate),
		"-",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Buffer{}, fmt.Errorf("ffmpeg decode failed: %w: %s", err, stderr.String())
	}
	return Buffer{SampleRate: rate, Samples: pcm16(stdout.Bytes())}, nil
}

// pcm16 converts little-endian signed 16-bit samples to floats.
func pcm16(raw []byte) []float32 {
	out := make([]float32, len(raw)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768
	}
	return out
}

// PCM16 encodes samples as little-endian signed 16-bit PCM.
func PCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(toInt16(s)))
	}
	return out
}

// FromPCM16 wraps little-endian signed 16-bit mono PCM in a Buffer.
func FromPCM16(raw []byte, sampleRate int) Buffer {
	return Buffer{SampleRate: sampleRate, Samples: pcm16(raw)}
}

func toInt16(s float32) int16 {
	return int16(clamp(s) * 32767)
}
