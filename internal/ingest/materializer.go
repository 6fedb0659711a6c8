package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

var (
	ErrSampleNotFound  = errors.New("sample not found")
	ErrSampleNotLoaded = errors.New("sample is not loaded")
)

// Limits bounds eager materialization.
type Limits struct {
	PerFileCeiling int64
	MemoryBudget   int64
}

// DefaultLimits mirrors the analyzer defaults: 10 MiB per file, 100 MiB total.
func DefaultLimits() Limits {
	return Limits{
		PerFileCeiling: 10 << 20,
		MemoryBudget:   100 << 20,
	}
}

// SampleInfo is a point-in-time copy of a sample's state.
type SampleInfo struct {
	ID           string  `json:"id"`
	DisplayName  string  `json:"name"`
	DeclaredPath string  `json:"declaredPath"`
	ArchivePath  string  `json:"archivePath"`
	TrackName    string  `json:"trackName,omitempty"`
	Size         int64   `json:"size"`
	Loaded       bool    `json:"loaded"`
	Handle       *Handle `json:"handle,omitempty"`
}

// Materializer owns the byte buffers of a bundle's samples. Loaded samples
// hold data and a handle; lazy samples hold their archive entry.
type Materializer struct {
	mu      sync.Mutex
	limits  Limits
	samples []*Sample
	byID    map[string]*Sample
	total   int64
	clock   uint64
	logger  *zap.Logger
}

// NewMaterializer takes ownership of resolved samples. Nothing is loaded until
// Materialize or Load runs.
func NewMaterializer(samples []*Sample, limits Limits, logger *zap.Logger) *Materializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	byID := make(map[string]*Sample, len(samples))
	for _, s := range samples {
		byID[s.ID] = s
	}
	return &Materializer{
		limits:  limits,
		samples: samples,
		byID:    byID,
		logger:  logger,
	}
}

// Materialize performs the eager pass in sample order. A sample is loaded
// when it fits under the per-file ceiling and the remaining budget; others
// stay lazy. The returned warnings cover budget overflow and read failures.
func (m *Materializer) Materialize(ctx context.Context) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		warnings []string
		deferred int
	)
	for _, s := range m.samples {
		if err := ctx.Err(); err != nil {
			warnings = append(warnings, "sample loading interrupted: "+err.Error())
			break
		}
		if s.loaded || s.Size < 0 || s.Size > m.limits.PerFileCeiling {
			continue
		}
		if m.total+s.Size > m.limits.MemoryBudget {
			deferred++
			continue
		}
		if err := m.load(s); err != nil {
			m.logger.Warn("sample load failed", zap.String("path", s.ArchivePath), zap.Error(err))
			warnings = append(warnings, fmt.Sprintf("failed to load sample %s: %v", s.DisplayName, err))
		}
	}
	if deferred > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"Large project: only %s of samples auto-loaded; %d sample(s) require on-demand loading",
			humanize.IBytes(uint64(m.total)), deferred))
	}
	m.logger.Debug("materialized samples",
		zap.Int("samples", len(m.samples)),
		zap.Int64("bytes", m.total),
		zap.Int("deferred", deferred))
	return warnings
}

// load reads s into memory and drops its archive entry. Caller holds mu.
func (m *Materializer) load(s *Sample) error {
	if s.entry == nil {
		return fmt.Errorf("archive entry for %s is no longer available", s.ArchivePath)
	}
	if s.Size < 0 {
		return fmt.Errorf("archive declares invalid size %d for %s", s.Size, s.ArchivePath)
	}
	data, err := s.entry.ReadAll(s.Size)
	if err != nil {
		return err
	}
	if int64(len(data)) != s.Size {
		return fmt.Errorf("read %d bytes, archive declared %d", len(data), s.Size)
	}
	s.data = data
	s.handle = probe(s.DisplayName, data)
	s.loaded = true
	s.entry = nil
	m.total += s.Size
	m.touch(s)
	return nil
}

func (m *Materializer) touch(s *Sample) {
	m.clock++
	s.lastUsed = m.clock
}

// Load materializes one sample on demand. Loading a loaded sample only marks
// it as recently used. When the load would exceed the budget, least recently
// used samples are evicted first; a sample larger than the whole budget still
// loads.
func (m *Materializer) Load(ctx context.Context, id string) (SampleInfo, error) {
	if err := ctx.Err(); err != nil {
		return SampleInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[id]
	if !ok {
		return SampleInfo{}, fmt.Errorf("%w: %s", ErrSampleNotFound, id)
	}
	if s.loaded {
		m.touch(s)
		return info(s), nil
	}
	for m.total+s.Size > m.limits.MemoryBudget {
		victim := m.leastRecentlyUsed(s)
		if victim == nil {
			break
		}
		m.logger.Debug("evicting sample", zap.String("sample", victim.DisplayName))
		m.evict(victim)
	}
	if err := m.load(s); err != nil {
		return SampleInfo{}, fmt.Errorf("load %s: %w", s.DisplayName, err)
	}
	return info(s), nil
}

func (m *Materializer) leastRecentlyUsed(except *Sample) *Sample {
	var victim *Sample
	for _, s := range m.samples {
		if !s.loaded || s == except {
			continue
		}
		if victim == nil || s.lastUsed < victim.lastUsed {
			victim = s
		}
	}
	return victim
}

// Evict returns a loaded sample to its lazy state. Evicting a lazy sample is
// a no-op.
func (m *Materializer) Evict(id string) (SampleInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[id]
	if !ok {
		return SampleInfo{}, fmt.Errorf("%w: %s", ErrSampleNotFound, id)
	}
	m.evict(s)
	return info(s), nil
}

func (m *Materializer) evict(s *Sample) {
	if !s.loaded {
		return
	}
	s.entry = s.source
	s.data = nil
	s.handle = nil
	s.loaded = false
	m.total -= s.Size
}

// Data returns the bytes and handle of a loaded sample.
func (m *Materializer) Data(id string) ([]byte, *Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrSampleNotFound, id)
	}
	if !s.loaded {
		return nil, nil, fmt.Errorf("%w: %s", ErrSampleNotLoaded, s.DisplayName)
	}
	m.touch(s)
	return s.data, s.handle, nil
}

// Sample returns a snapshot of one sample.
func (m *Materializer) Sample(id string) (SampleInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[id]
	if !ok {
		return SampleInfo{}, fmt.Errorf("%w: %s", ErrSampleNotFound, id)
	}
	return info(s), nil
}

// Samples returns snapshots of every sample in resolver order.
func (m *Materializer) Samples() []SampleInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SampleInfo, len(m.samples))
	for i, s := range m.samples {
		out[i] = info(s)
	}
	return out
}

// Total is the number of bytes currently held in memory.
func (m *Materializer) Total() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Limits returns the configured bounds.
func (m *Materializer) Limits() Limits {
	return m.limits
}

// Release drops every buffer and handle. The materializer is unusable after.
func (m *Materializer) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.samples {
		s.data = nil
		s.handle = nil
		s.loaded = false
		s.entry = nil
		s.source = nil
	}
	m.total = 0
	m.byID = map[string]*Sample{}
	m.samples = nil
}

func info(s *Sample) SampleInfo {
	si := SampleInfo{
		ID:           s.ID,
		DisplayName:  s.DisplayName,
		DeclaredPath: s.DeclaredPath,
		ArchivePath:  s.ArchivePath,
		TrackName:    s.TrackName,
		Size:         s.Size,
		Loaded:       s.loaded,
	}
	if s.handle != nil {
		h := *s.handle
		si.Handle = &h
	}
	return si
}
