package voice

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/linnemanlabs/arovia/internal/triage"
)

// Capture bounds.
const (
	MinDuration     = 5 * time.Second
	MaxDuration     = 30 * time.Second
	DefaultDuration = 10 * time.Second
)

// maxPayload caps how much of a WAV source is read: 30s of 48kHz 16-bit
// stereo is about 5.8 MB.
const maxPayload = 16 << 20

// ClampDuration limits d to [MinDuration, MaxDuration].
func ClampDuration(d time.Duration) time.Duration {
	return min(max(d, MinDuration), MaxDuration)
}

// Capturer acquires one bounded recording.
type Capturer interface {
	Capture(ctx context.Context, d time.Duration) (*Recording, error)
}

// Recording is a captured audio artifact on local disk. The caller owns it
// and must call Release when done.
type Recording struct {
	Path       string
	Duration   time.Duration
	SampleRate int
	Channels   int

	once sync.Once
	err  error
}

// Release removes the temporary file. It is safe to call more than once.
func (r *Recording) Release() error {
	if r == nil {
		return nil
	}
	r.once.Do(func() {
		if err := os.Remove(r.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.err = err
		}
	})
	return r.err
}

// WAVCapture treats an uploaded PCM WAV payload as the capture device. The
// data chunk is truncated to the requested duration and written to a
// temporary file.
type WAVCapture struct {
	src io.Reader
	dir string
}

// NewWAVCapture reads from src and writes recordings under dir (the system
// temp directory when empty).
func NewWAVCapture(src io.Reader, dir string) *WAVCapture {
	return &WAVCapture{src: src, dir: dir}
}

type wavFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// Capture implements Capturer.
func (c *WAVCapture) Capture(ctx context.Context, d time.Duration) (*Recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.src == nil {
		return nil, &triage.CaptureError{Reason: "no audio source"}
	}
	d = ClampDuration(d)

	raw, err := io.ReadAll(io.LimitReader(c.src, maxPayload+1))
	if err != nil {
		return nil, &triage.CaptureError{Reason: "read audio", Err: err}
	}
	if len(raw) == 0 {
		return nil, &triage.CaptureError{Reason: "empty audio payload"}
	}
	if len(raw) > maxPayload {
		return nil, &triage.CaptureError{Reason: "audio payload too large"}
	}

	format, data, err := parseWAV(raw)
	if err != nil {
		return nil, &triage.CaptureError{Reason: "invalid wav", Err: err}
	}

	limit := int(float64(format.ByteRate) * d.Seconds())
	limit -= limit % int(format.BlockAlign)
	if len(data) > limit {
		data = data[:limit]
	}

	f, err := os.CreateTemp(c.dir, "arovia-*.wav")
	if err != nil {
		return nil, &triage.CaptureError{Reason: "create temp file", Err: err}
	}
	if err := writeWAV(f, format, data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, &triage.CaptureError{Reason: "write temp file", Err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return nil, &triage.CaptureError{Reason: "write temp file", Err: err}
	}

	return &Recording{
		Path:       f.Name(),
		Duration:   time.Duration(float64(len(data)) / float64(format.ByteRate) * float64(time.Second)),
		SampleRate: int(format.SampleRate),
		Channels:   int(format.Channels),
	}, nil
}

// parseWAV walks the RIFF chunks and returns the fmt header and the PCM
// data chunk. Unknown chunks (LIST, fact) are skipped.
func parseWAV(raw []byte) (wavFormat, []byte, error) {
	var format wavFormat
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return format, nil, errors.New("missing RIFF/WAVE header")
	}

	var haveFmt bool
	pos := 12
	for pos+8 <= len(raw) {
		id := string(raw[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(raw[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(raw) {
			// Streaming encoders sometimes leave the data size unset.
			if id == "data" {
				size = len(raw) - body
			} else {
				return format, nil, fmt.Errorf("chunk %q overruns payload", id)
			}
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return format, nil, errors.New("fmt chunk too short")
			}
			if err := binary.Read(bytes.NewReader(raw[body:body+16]), binary.LittleEndian, &format); err != nil {
				return format, nil, fmt.Errorf("decode fmt chunk: %w", err)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return format, nil, errors.New("data chunk before fmt chunk")
			}
			if err := validateFormat(format); err != nil {
				return format, nil, err
			}
			data := raw[body : body+size]
			if len(data) == 0 {
				return format, nil, errors.New("no audio samples")
			}
			return format, data, nil
		}
		pos = body + size + size%2
	}
	return format, nil, errors.New("no data chunk")
}

func validateFormat(f wavFormat) error {
	switch {
	case f.AudioFormat != 1 && f.AudioFormat != 3:
		return fmt.Errorf("unsupported audio format %d", f.AudioFormat)
	case f.Channels == 0 || f.SampleRate == 0:
		return errors.New("zero channels or sample rate")
	case f.BitsPerSample == 0 || f.BitsPerSample%8 != 0:
		return fmt.Errorf("unsupported bit depth %d", f.BitsPerSample)
	}
	if want := f.Channels * f.BitsPerSample / 8; f.BlockAlign != want {
		return fmt.Errorf("block align %d, want %d", f.BlockAlign, want)
	}
	if want := f.SampleRate * uint32(f.BlockAlign); f.ByteRate != want {
		return fmt.Errorf("byte rate %d, want %d", f.ByteRate, want)
	}
	return nil
}

func writeWAV(w io.Writer, f wavFormat, data []byte) error {
	header := struct {
		RIFF     [4]byte
		Size     uint32
		WAVE     [4]byte
		FmtID    [4]byte
		FmtSize  uint32
		Format   wavFormat
		DataID   [4]byte
		DataSize uint32
	}{
		RIFF:     [4]byte{'R', 'I', 'F', 'F'},
		Size:     uint32(36 + len(data)),
		WAVE:     [4]byte{'W', 'A', 'V', 'E'},
		FmtID:    [4]byte{'f', 'm', 't', ' '},
		FmtSize:  16,
		Format:   f,
		DataID:   [4]byte{'d', 'a', 't', 'a'},
		DataSize: uint32(len(data)),
	}
	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
