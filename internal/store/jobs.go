package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trackfeedback/api/internal/model"
)

const jobColumns = "id, track_id, project_name, archive_key, tracks_json, tempo, duration_seconds, status, error_message, attempts, created_at, updated_at, started_at, completed_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*model.RenderJob, error) {
	var (
		job         model.RenderJob
		tracksJSON  string
		status      string
		errMsg      sql.NullString
		createdRaw  string
		updatedRaw  string
		startedRaw  sql.NullString
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.TrackID,
		&job.ProjectName,
		&job.ArchiveKey,
		&tracksJSON,
		&job.Tempo,
		&job.DurationSeconds,
		&status,
		&errMsg,
		&job.Attempts,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tracksJSON), &job.Tracks); err != nil {
		return nil, fmt.Errorf("decode tracks of job %s: %w", job.ID, err)
	}
	job.Status = model.RenderStatus(status)
	if errMsg.Valid {
		msg := errMsg.String
		job.Error = &msg
	}
	job.CreatedAt = parseTime(createdRaw)
	job.UpdatedAt = parseTime(updatedRaw)
	job.StartedAt = parseNullTime(startedRaw)
	job.CompletedAt = parseNullTime(finishedRaw)
	return &job, nil
}

// UpsertPending attaches a project to a track. A new job is created, or the
// existing job for the track is reset to PENDING with the new project data.
// Resetting a job that is currently rendering fails with ErrAlreadyRendering.
func (s *Store) UpsertPending(ctx context.Context, job *model.RenderJob) (*model.RenderJob, error) {
	tracks := job.Tracks
	if tracks == nil {
		tracks = []model.ProjectTrack{}
	}
	tracksJSON, err := json.Marshal(tracks)
	if err != nil {
		return nil, fmt.Errorf("marshal tracks: %w", err)
	}
	id := job.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := formatTime(time.Now())

	res, err := s.execWithRetry(ctx,
		`INSERT INTO render_jobs (
            id, track_id, project_name, archive_key, tracks_json, tempo, duration_seconds,
            status, attempts, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
        ON CONFLICT (track_id) DO UPDATE SET
            project_name = excluded.project_name,
            archive_key = excluded.archive_key,
            tracks_json = excluded.tracks_json,
            tempo = excluded.tempo,
            duration_seconds = excluded.duration_seconds,
            status = excluded.status,
            error_message = NULL,
            started_at = NULL,
            completed_at = NULL,
            updated_at = excluded.updated_at
        WHERE render_jobs.status != ?`,
		id, job.TrackID, job.ProjectName, job.ArchiveKey, string(tracksJSON), job.Tempo, job.DurationSeconds,
		model.RenderStatusPending, now, now,
		model.RenderStatusRendering,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert render job: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return nil, ErrAlreadyRendering
	}
	return s.GetByTrack(ctx, job.TrackID)
}

// Get fetches a job by identifier.
func (s *Store) Get(ctx context.Context, id string) (*model.RenderJob, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), "SELECT "+jobColumns+" FROM render_jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get render job: %w", err)
	}
	return job, nil
}

// GetByTrack fetches the job attached to a track.
func (s *Store) GetByTrack(ctx context.Context, trackID string) (*model.RenderJob, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), "SELECT "+jobColumns+" FROM render_jobs WHERE track_id = ?", trackID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: track %s", ErrJobNotFound, trackID)
	}
	if err != nil {
		return nil, fmt.Errorf("get render job by track: %w", err)
	}
	return job, nil
}

// TryStartRender moves a job from PENDING or FAILED to RENDERING. Exactly one
// of any number of concurrent callers succeeds; the rest get
// ErrAlreadyRendering.
func (s *Store) TryStartRender(ctx context.Context, id string) error {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE render_jobs
         SET status = ?, attempts = attempts + 1, error_message = NULL,
             started_at = ?, completed_at = NULL, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		model.RenderStatusRendering, now, now,
		id, model.RenderStatusPending, model.RenderStatusFailed,
	)
	if err != nil {
		return fmt.Errorf("start render: %w", err)
	}
	return s.checkTransition(ctx, res, id)
}

// Complete moves a rendering job to COMPLETED.
func (s *Store) Complete(ctx context.Context, id string) error {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE render_jobs SET status = ?, completed_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		model.RenderStatusCompleted, now, now, id, model.RenderStatusRendering,
	)
	if err != nil {
		return fmt.Errorf("complete render: %w", err)
	}
	return s.checkTransition(ctx, res, id)
}

// Fail records a failed attempt. Only pending or rendering jobs can fail.
func (s *Store) Fail(ctx context.Context, id, message string) error {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE render_jobs SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		model.RenderStatusFailed, nullableString(message), now, now,
		id, model.RenderStatusPending, model.RenderStatusRendering,
	)
	if err != nil {
		return fmt.Errorf("fail render: %w", err)
	}
	return s.checkTransition(ctx, res, id)
}

// checkTransition turns a conditional update that matched nothing into the
// error describing the job's current state.
func (s *Store) checkTransition(ctx context.Context, res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}
	return s.transitionError(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) transitionError(ctx context.Context, q queryer, id string) error {
	var status string
	err := q.QueryRowContext(ensureContext(ctx), "SELECT status FROM render_jobs WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("read render status: %w", err)
	}
	switch model.RenderStatus(status) {
	case model.RenderStatusRendering:
		return ErrAlreadyRendering
	case model.RenderStatusCompleted:
		return ErrAlreadyCompleted
	default:
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, status)
	}
}

// ListFilter selects jobs for the admin listing.
type ListFilter struct {
	Statuses []model.RenderStatus
	// NewestFirst orders by last update descending; otherwise by creation
	// ascending.
	NewestFirst bool
	Limit       int
}

// List returns jobs matching filter.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]model.RenderJob, error) {
	query := "SELECT " + jobColumns + " FROM render_jobs"
	var args []any
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, st)
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	if filter.NewestFirst {
		query += " ORDER BY updated_at DESC, id"
	} else {
		query += " ORDER BY created_at ASC, id"
	}
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list render jobs: %w", err)
	}
	defer rows.Close()

	jobs := []model.RenderJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan render job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// defaultFinishedLimit caps finished listings when no limit is given.
const defaultFinishedLimit = 20

// StateFilter builds the listing filter for a dashboard state. Active jobs
// come oldest first; finished jobs newest first.
func StateFilter(state string, limit int) (ListFilter, bool) {
	switch state {
	case model.RenderStateActive:
		return ListFilter{
			Statuses: []model.RenderStatus{model.RenderStatusPending, model.RenderStatusRendering},
			Limit:    limit,
		}, true
	case model.RenderStateFinished:
		if limit <= 0 {
			limit = defaultFinishedLimit
		}
		return ListFilter{
			Statuses:    []model.RenderStatus{model.RenderStatusCompleted, model.RenderStatusFailed},
			NewestFirst: true,
			Limit:       limit,
		}, true
	}
	return ListFilter{}, false
}
