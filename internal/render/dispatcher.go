package render

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/trackfeedback/api/internal/model"
)

// Dispatcher hands a job that is already RENDERING to whatever executes it.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID, requestedBy string) error
}

// NewRenderTask builds the asynq task for a render job.
func NewRenderTask(jobID, requestedBy string) (*asynq.Task, error) {
	data, err := json.Marshal(model.RenderTaskPayload{JobID: jobID, RequestedBy: requestedBy})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(model.TaskTypeRenderStems, data), nil
}

// QueueDispatcher enqueues render tasks for the worker process.
type QueueDispatcher struct {
	client *asynq.Client
}

func NewQueueDispatcher(client *asynq.Client) *QueueDispatcher {
	return &QueueDispatcher{client: client}
}

// Dispatch enqueues the job without retries; a failed render stays FAILED
// until someone retries it explicitly.
func (d *QueueDispatcher) Dispatch(ctx context.Context, jobID, requestedBy string) error {
	task, err := NewRenderTask(jobID, requestedBy)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	_, err = d.client.EnqueueContext(ctx, task,
		asynq.Queue(model.QueueRender),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// InlineDispatcher executes renders on goroutines of the current process. It
// is used when no Redis is available and by the CLI.
type InlineDispatcher struct {
	orchestrator *Orchestrator
	progress     ProgressFunc
	logger       *zap.Logger
	wg           sync.WaitGroup
}

func NewInlineDispatcher(o *Orchestrator, progress ProgressFunc, logger *zap.Logger) *InlineDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InlineDispatcher{orchestrator: o, progress: progress, logger: logger}
}

// Dispatch starts the render and returns immediately. Renders are not
// cancellable, so the request context is detached.
func (d *InlineDispatcher) Dispatch(ctx context.Context, jobID, requestedBy string) error {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.orchestrator.ExecuteByID(ctx, jobID, d.progress); err != nil {
			d.logger.Warn("inline render finished with error",
				zap.String("job_id", jobID),
				zap.String("requested_by", requestedBy),
				zap.Error(err),
			)
		}
	}()
	return nil
}

// Wait blocks until every dispatched render has finished.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
