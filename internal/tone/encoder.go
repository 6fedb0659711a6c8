// Package tone synthesizes placeholder stem audio until real source
// separation replaces it.
package tone

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth = 16
	channels = 1
	// WAV format tag for uncompressed PCM.
	formatPCM = 1
)

// Options bounds the synthetic render. Zero values fall back to DefaultOptions.
type Options struct {
	MinSeconds float64
	MaxSeconds float64
	MinRate    int
	MaxRate    int
	Headroom   float64
}

// DefaultOptions returns the bounds used by the placeholder renderer.
func DefaultOptions() Options {
	return Options{
		MinSeconds: 2,
		MaxSeconds: 30,
		MinRate:    8000,
		MaxRate:    48000,
		Headroom:   0.15,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MinSeconds <= 0 {
		o.MinSeconds = d.MinSeconds
	}
	if o.MaxSeconds <= 0 {
		o.MaxSeconds = d.MaxSeconds
	}
	if o.MaxSeconds < o.MinSeconds {
		o.MaxSeconds = o.MinSeconds
	}
	if o.MinRate <= 0 {
		o.MinRate = d.MinRate
	}
	if o.MaxRate <= 0 {
		o.MaxRate = d.MaxRate
	}
	if o.MaxRate < o.MinRate {
		o.MaxRate = o.MinRate
	}
	if o.Headroom <= 0 || o.Headroom > 1 {
		o.Headroom = d.Headroom
	}
	return o
}

// Encoder produces mono 16-bit PCM WAV files of sine mixtures.
type Encoder struct {
	opts Options
}

// NewEncoder returns an encoder bound by opts.
func NewEncoder(opts Options) *Encoder {
	return &Encoder{opts: opts.withDefaults()}
}

// Options returns the effective bounds.
func (e *Encoder) Options() Options {
	return e.opts
}

// ClampSeconds applies the duration bounds. Durations are whole seconds.
func (e *Encoder) ClampSeconds(seconds float64) int {
	if math.IsNaN(seconds) || seconds <= 0 {
		seconds = e.opts.MinSeconds
	}
	s := math.Floor(seconds)
	s = math.Max(e.opts.MinSeconds, math.Min(e.opts.MaxSeconds, s))
	return int(s)
}

// ClampRate applies the sample rate bounds.
func (e *Encoder) ClampRate(rate int) int {
	if rate < e.opts.MinRate {
		return e.opts.MinRate
	}
	if rate > e.opts.MaxRate {
		return e.opts.MaxRate
	}
	return rate
}

// Encode renders the average of equal-amplitude sines at freqs, scaled by the
// headroom factor, as a complete WAV file.
func (e *Encoder) Encode(seconds float64, sampleRate int, freqs []float64) ([]byte, error) {
	if len(freqs) == 0 {
		return nil, errors.New("tone: at least one frequency is required")
	}
	dur := e.ClampSeconds(seconds)
	rate := e.ClampRate(sampleRate)

	total := dur * rate
	data := make([]int, total)
	for i := range data {
		t := float64(i) / float64(rate)
		var sum float64
		for _, f := range freqs {
			sum += math.Sin(2 * math.Pi * f * t)
		}
		v := e.opts.Headroom * sum / float64(len(freqs))
		v = math.Max(-1, math.Min(1, v))
		data[i] = int(math.Round(v * 32767))
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: channels,
			SampleRate:  rate,
		},
		Data:           data,
		SourceBitDepth: bitDepth,
	}

	w := &seekBuffer{}
	enc := wav.NewEncoder(w, rate, bitDepth, channels, formatPCM)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("tone: write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("tone: finalize container: %w", err)
	}
	return w.Bytes(), nil
}

// seekBuffer is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes on Close.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		if end > cap(s.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, s.buf)
			s.buf = grown
		} else {
			s.buf = s.buf[:end]
		}
	}
	copy(s.buf[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, errors.New("tone: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("tone: negative position")
	}
	s.pos = int(abs)
	return abs, nil
}

func (s *seekBuffer) Bytes() []byte {
	return s.buf
}
