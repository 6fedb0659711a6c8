// Package ingest turns an uploaded project archive into an asset bundle:
// the decoded descriptor, resolved samples and a memory-bounded set of
// loaded sample buffers.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trackfeedback/api/internal/archive"
	"github.com/trackfeedback/api/internal/descriptor"
)

// maxDescriptorBytes caps the inflated size read from the descriptor entry.
const maxDescriptorBytes = 256 << 20

// Bundle aggregates a parsed project with its samples and warnings. Close
// releases every loaded buffer and the underlying archive.
type Bundle struct {
	ID          string
	ProjectName string
	Project     *descriptor.Project
	Tracks      []ResolvedTrack
	Warnings    []string
	CreatedAt   time.Time

	*Materializer

	index     *archive.Index
	onClose   func() error
	closeOnce sync.Once
	closeErr  error
}

// Loader builds bundles with fixed limits.
type Loader struct {
	limits Limits
	logger *zap.Logger
}

func NewLoader(limits Limits, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{limits: limits, logger: logger}
}

// Parse decodes the descriptor of an archive without materializing samples.
// The caller closes the returned index.
func Parse(r io.ReaderAt, size int64) (*archive.Index, *descriptor.Project, error) {
	ix, err := archive.New(r, size)
	if err != nil {
		return nil, nil, err
	}
	p, err := decodeDescriptor(ix)
	if err != nil {
		return nil, nil, err
	}
	return ix, p, nil
}

func decodeDescriptor(ix *archive.Index) (*descriptor.Project, error) {
	raw, err := ix.Descriptor().ReadAll(maxDescriptorBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", descriptor.ErrCorrupted, err)
	}
	return descriptor.Decode(raw)
}

// Load indexes, decodes and materializes an archive readable through r. r
// must stay readable until the bundle is closed.
func (l *Loader) Load(ctx context.Context, r io.ReaderAt, size int64) (*Bundle, error) {
	ix, err := archive.New(r, size)
	if err != nil {
		return nil, err
	}
	return l.build(ctx, ix, nil)
}

// LoadFile loads the archive at filename. When removeOnClose is set the file
// is deleted when the bundle closes.
func (l *Loader) LoadFile(ctx context.Context, filename string, removeOnClose bool) (*Bundle, error) {
	ix, err := archive.Open(filename)
	if err != nil {
		if removeOnClose {
			os.Remove(filename)
		}
		return nil, err
	}
	var cleanup func() error
	if removeOnClose {
		cleanup = func() error { return os.Remove(filename) }
	}
	b, err := l.build(ctx, ix, cleanup)
	if err != nil {
		ix.Close()
		if cleanup != nil {
			cleanup()
		}
		return nil, err
	}
	return b, nil
}

func (l *Loader) build(ctx context.Context, ix *archive.Index, cleanup func() error) (*Bundle, error) {
	p, err := decodeDescriptor(ix)
	if err != nil {
		return nil, err
	}
	res := Resolve(p, ix)
	m := NewMaterializer(res.Samples, l.limits, l.logger)
	warnings := append(res.Warnings, m.Materialize(ctx)...)

	b := &Bundle{
		ID:           uuid.NewString(),
		ProjectName:  ix.ProjectName(),
		Project:      p,
		Tracks:       res.Tracks,
		Warnings:     warnings,
		CreatedAt:    time.Now(),
		Materializer: m,
		index:        ix,
		onClose:      cleanup,
	}
	if b.Warnings == nil {
		b.Warnings = []string{}
	}
	l.logger.Info("project bundle loaded",
		zap.String("bundle", b.ID),
		zap.String("project", b.ProjectName),
		zap.Int("tracks", len(p.Tracks)),
		zap.Int("samples", len(res.Samples)),
		zap.Int("warnings", len(b.Warnings)))
	return b, nil
}

// Close releases all sample buffers and the archive. It is safe to call
// more than once.
func (b *Bundle) Close() error {
	b.closeOnce.Do(func() {
		b.Materializer.Release()
		b.closeErr = b.index.Close()
		if b.onClose != nil {
			if err := b.onClose(); err != nil && b.closeErr == nil {
				b.closeErr = err
			}
		}
	})
	return b.closeErr
}
