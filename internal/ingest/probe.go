package ingest

import (
	"bytes"
	"path"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/mewkiz/flac"
)

// Handle is the playable view of a loaded sample handed to clients.
type Handle struct {
	ID         string        `json:"id"`
	MIMEType   string        `json:"mimeType"`
	Format     string        `json:"format"`
	Size       int64         `json:"size"`
	Duration   time.Duration `json:"duration"`
	SampleRate int           `json:"sampleRate,omitempty"`
	Channels   int           `json:"channels,omitempty"`
	BitDepth   int           `json:"bitDepth,omitempty"`
	// Probed is false when the container could not be inspected; the bytes
	// are still served as-is.
	Probed bool `json:"probed"`
}

var mimeTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".aif":  "audio/aiff",
	".aiff": "audio/aiff",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".m4a":  "audio/mp4",
}

// MIMEType returns the content type for an audio filename.
func MIMEType(name string) string {
	if t, ok := mimeTypes[strings.ToLower(path.Ext(name))]; ok {
		return t
	}
	return "application/octet-stream"
}

func probe(name string, data []byte) *Handle {
	ext := strings.ToLower(path.Ext(name))
	h := &Handle{
		ID:       uuid.NewString(),
		MIMEType: MIMEType(name),
		Format:   strings.TrimPrefix(ext, "."),
		Size:     int64(len(data)),
	}
	switch ext {
	case ".wav":
		probeWAV(h, data)
	case ".flac":
		probeFLAC(h, data)
	}
	return h
}

func probeWAV(h *Handle, data []byte) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return
	}
	h.SampleRate = int(dec.SampleRate)
	h.Channels = int(dec.NumChans)
	h.BitDepth = int(dec.BitDepth)
	// Duration counts data chunk frames only.
	frameBytes := h.Channels * h.BitDepth / 8
	if err := dec.FwdToPCM(); err == nil && h.SampleRate > 0 && frameBytes > 0 {
		frames := int64(dec.PCMSize / frameBytes)
		h.Duration = time.Duration(frames) * time.Second / time.Duration(h.SampleRate)
	}
	h.Probed = true
}

func probeFLAC(h *Handle, data []byte) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return
	}
	defer stream.Close()
	info := stream.Info
	if info == nil || info.SampleRate == 0 {
		return
	}
	h.SampleRate = int(info.SampleRate)
	h.Channels = int(info.NChannels)
	h.BitDepth = int(info.BitsPerSample)
	h.Duration = time.Duration(float64(info.NSamples) / float64(info.SampleRate) * float64(time.Second))
	h.Probed = true
}
