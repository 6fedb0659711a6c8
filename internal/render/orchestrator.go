// Package render drives render jobs from RENDERING to COMPLETED or FAILED,
// writing one placeholder stem per project track plus a master stem.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/trackfeedback/api/internal/client"
	"github.com/trackfeedback/api/internal/model"
	"github.com/trackfeedback/api/internal/stem"
	"github.com/trackfeedback/api/internal/store"
	"github.com/trackfeedback/api/internal/tone"
)

const (
	stemKeyPrefix = "generated-stems"
	masterLabel   = "Master"
	maxSlugLength = 60
)

// JobStore is the persistence the orchestrator needs.
type JobStore interface {
	Get(ctx context.Context, id string) (*model.RenderJob, error)
	TryStartRender(ctx context.Context, id string) error
	ClearStems(ctx context.Context, jobID string) ([]model.StemArtifact, error)
	AddStem(ctx context.Context, a *model.StemArtifact) error
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id, message string) error
}

// Options bounds a synthetic render.
type Options struct {
	// MaxTracks caps the number of track stems rendered after the master.
	MaxTracks int
	// DefaultSeconds is used when the project records no arrangement length.
	DefaultSeconds float64
	SampleRate     int
}

// DefaultOptions returns the synthetic render defaults.
func DefaultOptions() Options {
	return Options{MaxTracks: 7, DefaultSeconds: 12, SampleRate: 44100}
}

// Progress is reported after each stem is persisted.
type Progress struct {
	JobID     string
	Stem      model.StemArtifact
	Completed int
	Total     int
}

// Percent is the share of stems written so far.
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return p.Completed * 100 / p.Total
}

// ProgressFunc receives per-stem progress. It may be nil.
type ProgressFunc func(Progress)

// Orchestrator renders jobs. A job is entered into RENDERING with Begin and
// then rendered with Execute, possibly on another process.
type Orchestrator struct {
	store   JobStore
	blobs   client.StorageClient
	encoder *tone.Encoder
	opts    Options
	logger  *zap.Logger
}

func NewOrchestrator(st JobStore, blobs client.StorageClient, encoder *tone.Encoder, opts Options, logger *zap.Logger) *Orchestrator {
	def := DefaultOptions()
	if opts.MaxTracks <= 0 {
		opts.MaxTracks = def.MaxTracks
	}
	if opts.DefaultSeconds <= 0 {
		opts.DefaultSeconds = def.DefaultSeconds
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = def.SampleRate
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:   st,
		blobs:   blobs,
		encoder: encoder,
		opts:    opts,
		logger:  logger,
	}
}

// Begin moves a job into RENDERING. A job that is already rendering is
// rejected with store.ErrAlreadyRendering; a completed one with
// store.ErrAlreadyCompleted.
func (o *Orchestrator) Begin(ctx context.Context, jobID string) (*model.RenderJob, error) {
	if err := o.store.TryStartRender(ctx, jobID); err != nil {
		return nil, err
	}
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	o.logger.Info("render started", zap.String("job_id", jobID), zap.Int("attempt", job.Attempts))
	return job, nil
}

// Render begins and executes a job in the calling goroutine.
func (o *Orchestrator) Render(ctx context.Context, jobID string, progress ProgressFunc) ([]model.StemArtifact, error) {
	job, err := o.Begin(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, job, progress)
}

// ExecuteByID loads a job that Begin already moved to RENDERING and executes it.
func (o *Orchestrator) ExecuteByID(ctx context.Context, jobID string, progress ProgressFunc) ([]model.StemArtifact, error) {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.RenderStatusRendering {
		return nil, fmt.Errorf("%w: job %s is %s", store.ErrInvalidTransition, jobID, job.Status)
	}
	return o.Execute(ctx, job, progress)
}

// Execute writes every stem of a rendering job and completes it. Any error
// marks the job FAILED and is returned.
func (o *Orchestrator) Execute(ctx context.Context, job *model.RenderJob, progress ProgressFunc) ([]model.StemArtifact, error) {
	stems, err := o.execute(ctx, job, progress)
	if err != nil {
		o.fail(ctx, job.ID, err)
		return nil, err
	}
	o.logger.Info("render completed", zap.String("job_id", job.ID), zap.Int("stems", len(stems)))
	return stems, nil
}

func (o *Orchestrator) execute(ctx context.Context, job *model.RenderJob, progress ProgressFunc) ([]model.StemArtifact, error) {
	if err := o.clearPrevious(ctx, job.ID); err != nil {
		return nil, err
	}

	plan := o.Plan(job)
	seconds := job.DurationSeconds
	if seconds <= 0 {
		seconds = o.opts.DefaultSeconds
	}

	stems := make([]model.StemArtifact, 0, len(plan))
	for i, p := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := o.encoder.Encode(seconds, o.opts.SampleRate, stem.Frequencies(p.Type))
		if err != nil {
			return nil, fmt.Errorf("encode %s stem: %w", p.Label, err)
		}
		url, err := o.blobs.Upload(ctx, p.Key, bytes.NewReader(data), "audio/wav")
		if err != nil {
			return nil, fmt.Errorf("upload %s stem: %w", p.Label, err)
		}
		artifact := model.StemArtifact{
			JobID:      job.ID,
			URL:        url,
			StorageKey: p.Key,
			StemType:   p.Type,
			Label:      p.Label,
			Order:      p.Order,
		}
		if err := o.store.AddStem(ctx, &artifact); err != nil {
			return nil, err
		}
		stems = append(stems, artifact)

		if progress != nil {
			progress(Progress{JobID: job.ID, Stem: artifact, Completed: i + 1, Total: len(plan)})
		}
	}

	if err := o.store.Complete(ctx, job.ID); err != nil {
		return nil, err
	}
	return stems, nil
}

// clearPrevious removes stems left by an earlier attempt before anything new
// is written.
func (o *Orchestrator) clearPrevious(ctx context.Context, jobID string) error {
	removed, err := o.store.ClearStems(ctx, jobID)
	if err != nil {
		return err
	}
	for _, a := range removed {
		if a.StorageKey == "" {
			continue
		}
		if err := o.blobs.Delete(ctx, a.StorageKey); err != nil {
			o.logger.Warn("failed to delete previous stem",
				zap.String("job_id", jobID),
				zap.String("key", a.StorageKey),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, jobID string, cause error) {
	o.logger.Error("render failed", zap.String("job_id", jobID), zap.Error(cause))
	// The job must leave RENDERING even when the caller's context is gone.
	if err := o.store.Fail(context.WithoutCancel(ctx), jobID, cause.Error()); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		o.logger.Error("failed to mark render failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// PlannedStem is one stem a render will produce.
type PlannedStem struct {
	Order int
	Label string
	Type  stem.Type
	Key   string
}

// Plan lists the stems for a job: the master at order 0 followed by at most
// MaxTracks project tracks in project order.
func (o *Orchestrator) Plan(job *model.RenderJob) []PlannedStem {
	tracks := job.Tracks
	if len(tracks) > o.opts.MaxTracks {
		tracks = tracks[:o.opts.MaxTracks]
	}
	plan := make([]PlannedStem, 0, len(tracks)+1)
	plan = append(plan, PlannedStem{
		Order: 0,
		Label: masterLabel,
		Type:  stem.Master,
		Key:   StemKey(job.ID, 0, masterLabel),
	})
	for i, t := range tracks {
		plan = append(plan, PlannedStem{
			Order: i + 1,
			Label: t.Name,
			Type:  stem.Classify(t.Name),
			Key:   StemKey(job.ID, i+1, t.Name),
		})
	}
	return plan
}

// StemKey is the blob key of a rendered stem.
func StemKey(jobID string, order int, label string) string {
	return fmt.Sprintf("%s/%s/%02d-%s.wav", stemKeyPrefix, jobID, order, slug(label))
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if len(out) > maxSlugLength {
		out = strings.TrimRight(out[:maxSlugLength], "-")
	}
	if out == "" {
		return "stem"
	}
	return out
}
