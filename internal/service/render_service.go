package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trackfeedback/api/internal/model"
	"github.com/trackfeedback/api/internal/render"
	"github.com/trackfeedback/api/internal/stem"
	"github.com/trackfeedback/api/internal/store"
)

// JobRepository is the job store as seen by the render service.
type JobRepository interface {
	Get(ctx context.Context, id string) (*model.RenderJob, error)
	GetByTrack(ctx context.Context, trackID string) (*model.RenderJob, error)
	Fail(ctx context.Context, id, message string) error
	List(ctx context.Context, filter store.ListFilter) ([]model.RenderJob, error)
	ListStems(ctx context.Context, jobID string) ([]model.StemArtifact, error)
	CompleteWithStems(ctx context.Context, jobID string, stems []model.StemArtifact) error
}

// CompletionNotifier is told when a job completes outside the orchestrator.
type CompletionNotifier interface {
	BroadcastComplete(jobID string, result interface{})
}

// RenderService handles render job management
type RenderService struct {
	jobs         JobRepository
	orchestrator *render.Orchestrator
	dispatcher   render.Dispatcher
	notifier     CompletionNotifier
	logger       *zap.Logger
}

func NewRenderService(jobs JobRepository, orchestrator *render.Orchestrator, dispatcher render.Dispatcher, notifier CompletionNotifier, logger *zap.Logger) *RenderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RenderService{
		jobs:         jobs,
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		notifier:     notifier,
		logger:       logger,
	}
}

// Trigger moves a job into RENDERING and hands it to the dispatcher. Two
// concurrent triggers for one job never both succeed.
func (s *RenderService) Trigger(ctx context.Context, jobID, requestedBy string) (*model.RenderTriggerResponse, error) {
	job, err := s.orchestrator.Begin(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if err := s.dispatcher.Dispatch(ctx, job.ID, requestedBy); err != nil {
		if failErr := s.jobs.Fail(context.WithoutCancel(ctx), job.ID, err.Error()); failErr != nil {
			s.logger.Error("failed to mark undispatched render failed", zap.String("job_id", job.ID), zap.Error(failErr))
		}
		return nil, fmt.Errorf("failed to dispatch render: %w", err)
	}

	s.logger.Info("render triggered", zap.String("job_id", job.ID), zap.String("requested_by", requestedBy))
	return &model.RenderTriggerResponse{
		JobID:   job.ID,
		Status:  model.RenderStatusRendering,
		Message: "Render started",
	}, nil
}

// TriggerForTrack triggers the render job attached to a track.
func (s *RenderService) TriggerForTrack(ctx context.Context, trackID, requestedBy string) (*model.RenderTriggerResponse, error) {
	job, err := s.jobs.GetByTrack(ctx, trackID)
	if err != nil {
		return nil, err
	}
	return s.Trigger(ctx, job.ID, requestedBy)
}

// GetStatus returns the current status of a render job
func (s *RenderService) GetStatus(ctx context.Context, jobID string) (*model.RenderStatusResponse, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.status(ctx, job)
}

// GetStatusForTrack returns the status of the job attached to a track.
func (s *RenderService) GetStatusForTrack(ctx context.Context, trackID string) (*model.RenderStatusResponse, error) {
	job, err := s.jobs.GetByTrack(ctx, trackID)
	if err != nil {
		return nil, err
	}
	return s.status(ctx, job)
}

func (s *RenderService) status(ctx context.Context, job *model.RenderJob) (*model.RenderStatusResponse, error) {
	stems, err := s.jobs.ListStems(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	progress, message := job.Status.Progress()
	if job.Status == model.RenderStatusFailed && job.Error != nil {
		message = *job.Error
	}
	return &model.RenderStatusResponse{
		JobID:       job.ID,
		TrackID:     job.TrackID,
		ProjectName: job.ProjectName,
		Status:      job.Status,
		Progress:    progress,
		Message:     message,
		Error:       job.Error,
		Attempts:    job.Attempts,
		Stems:       stems,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// List returns jobs for the admin dashboard. Active jobs come oldest first;
// finished jobs newest first, capped at limit (default 20).
func (s *RenderService) List(ctx context.Context, state string, limit int) (*model.RenderListResponse, error) {
	filter, ok := store.StateFilter(state, limit)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, state)
	}

	jobs, err := s.jobs.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []model.RenderJob{}
	}
	return &model.RenderListResponse{State: state, Jobs: jobs, Count: len(jobs)}, nil
}

// CompleteFromWorker records stems produced by an external render worker and
// completes the job in one step.
func (s *RenderService) CompleteFromWorker(ctx context.Context, jobID string, req *model.WorkerCompleteRequest) (*model.WorkerCompleteResponse, error) {
	seen := make(map[int]bool, len(req.Stems))
	stems := make([]model.StemArtifact, 0, len(req.Stems))
	for _, ws := range req.Stems {
		order := *ws.Order
		if seen[order] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateOrder, order)
		}
		seen[order] = true

		typ, err := stem.ParseType(ws.StemType)
		if err != nil {
			s.logger.Warn("unknown stem type from worker",
				zap.String("job_id", jobID), zap.String("stem_type", ws.StemType))
		}
		stems = append(stems, model.StemArtifact{
			URL:      ws.URL,
			StemType: typ,
			Label:    ws.Label,
			Order:    order,
		})
	}

	if err := s.jobs.CompleteWithStems(ctx, jobID, stems); err != nil {
		return nil, err
	}
	s.logger.Info("render completed by worker", zap.String("job_id", jobID), zap.Int("stems", len(stems)))

	if s.notifier != nil {
		s.notifier.BroadcastComplete(jobID, map[string]interface{}{
			"stems":       stems,
			"completedAt": time.Now(),
		})
	}

	return &model.WorkerCompleteResponse{
		Success:   true,
		JobID:     jobID,
		StemCount: len(stems),
	}, nil
}
