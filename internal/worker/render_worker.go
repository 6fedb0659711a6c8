package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/trackfeedback/api/internal/model"
	"github.com/trackfeedback/api/internal/render"
)

// Broadcaster pushes render events to subscribed clients.
type Broadcaster interface {
	BroadcastProgress(jobID string, progress int, status model.RenderStatus, step string)
	BroadcastStem(jobID string, stem model.StemArtifact)
	BroadcastComplete(jobID string, result interface{})
	BroadcastError(jobID string, code, message string)
}

// RenderWorker processes render jobs
type RenderWorker struct {
	orchestrator *render.Orchestrator
	hub          Broadcaster
	logger       *zap.Logger
}

// NewRenderWorker creates a new render worker
func NewRenderWorker(orchestrator *render.Orchestrator, hub Broadcaster, logger *zap.Logger) *RenderWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RenderWorker{
		orchestrator: orchestrator,
		hub:          hub,
		logger:       logger,
	}
}

// Register attaches the worker's handlers to an asynq mux.
func (w *RenderWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(model.TaskTypeRenderStems, w.ProcessTask)
}

// ProcessTask handles render task processing
func (w *RenderWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.RenderTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w: %w", err, asynq.SkipRetry)
	}
	return w.Run(ctx, payload.JobID)
}

// Run executes a job that is already RENDERING and reports progress.
func (w *RenderWorker) Run(ctx context.Context, jobID string) error {
	w.logger.Info("starting render job", zap.String("job_id", jobID))
	w.hub.BroadcastProgress(jobID, 0, model.RenderStatusRendering, "Rendering stems...")

	stems, err := w.orchestrator.ExecuteByID(ctx, jobID, w.Progress())
	if err != nil {
		w.hub.BroadcastError(jobID, "RENDER_FAILED", err.Error())
		// Retries are explicit; the job is already FAILED.
		return fmt.Errorf("render %s: %w: %w", jobID, err, asynq.SkipRetry)
	}

	w.hub.BroadcastComplete(jobID, map[string]interface{}{
		"status": model.RenderStatusCompleted,
		"stems":  stems,
	})
	w.logger.Info("render job completed", zap.String("job_id", jobID), zap.Int("stems", len(stems)))
	return nil
}

// Progress adapts orchestrator progress to hub broadcasts.
func (w *RenderWorker) Progress() render.ProgressFunc {
	return func(p render.Progress) {
		w.hub.BroadcastStem(p.JobID, p.Stem)
		w.hub.BroadcastProgress(p.JobID, p.Percent(), model.RenderStatusRendering,
			fmt.Sprintf("Rendered %s (%d/%d)", p.Stem.Label, p.Completed, p.Total))
	}
}
