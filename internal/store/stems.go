package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trackfeedback/api/internal/model"
	"github.com/trackfeedback/api/internal/stem"
)

const stemColumns = "id, job_id, url, storage_key, stem_type, label, order_index, created_at"

func scanStem(scanner interface{ Scan(dest ...any) error }) (model.StemArtifact, error) {
	var (
		a          model.StemArtifact
		storageKey sql.NullString
		stemType   string
		createdRaw string
	)
	if err := scanner.Scan(&a.ID, &a.JobID, &a.URL, &storageKey, &stemType, &a.Label, &a.Order, &createdRaw); err != nil {
		return a, err
	}
	a.StorageKey = storageKey.String
	// Rows written by external workers may carry tags we do not know.
	a.StemType, _ = stem.ParseType(stemType)
	a.CreatedAt = parseTime(createdRaw)
	return a, nil
}

// AddStem persists one artifact record. Each record is its own transaction,
// so an interrupted render leaves a consistent prefix.
func (s *Store) AddStem(ctx context.Context, a *model.StemArtifact) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.execWithRetry(ctx,
		"INSERT INTO stem_artifacts ("+stemColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		a.ID, a.JobID, a.URL, nullableString(a.StorageKey), a.StemType.String(), a.Label, a.Order, formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert stem artifact: %w", err)
	}
	return nil
}

// ClearStems deletes every artifact record of a job and returns the removed
// records so their files can be cleaned up.
func (s *Store) ClearStems(ctx context.Context, jobID string) ([]model.StemArtifact, error) {
	ctx = ensureContext(ctx)
	var removed []model.StemArtifact
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		removed, err = listStems(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM stem_artifacts WHERE job_id = ?", jobID); err != nil {
			return fmt.Errorf("delete stem artifacts: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// ListStems returns a job's artifacts ordered by order index.
func (s *Store) ListStems(ctx context.Context, jobID string) ([]model.StemArtifact, error) {
	return listStems(ensureContext(ctx), s.db, jobID)
}

type rowsQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listStems(ctx context.Context, q rowsQueryer, jobID string) ([]model.StemArtifact, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+stemColumns+" FROM stem_artifacts WHERE job_id = ? ORDER BY order_index", jobID)
	if err != nil {
		return nil, fmt.Errorf("list stem artifacts: %w", err)
	}
	defer rows.Close()

	stems := []model.StemArtifact{}
	for rows.Next() {
		a, err := scanStem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stem artifact: %w", err)
		}
		stems = append(stems, a)
	}
	return stems, rows.Err()
}

// CompleteWithStems records stems produced outside this process and marks the
// job COMPLETED in one transaction. Only pending or rendering jobs qualify.
func (s *Store) CompleteWithStems(ctx context.Context, jobID string, stems []model.StemArtifact) error {
	ctx = ensureContext(ctx)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			`UPDATE render_jobs SET status = ?, error_message = NULL, completed_at = ?, updated_at = ?
             WHERE id = ? AND status IN (?, ?)`,
			model.RenderStatusCompleted, formatTime(now), formatTime(now),
			jobID, model.RenderStatusPending, model.RenderStatusRendering,
		)
		if err != nil {
			return fmt.Errorf("complete render: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if rows == 0 {
			return s.transitionError(ctx, tx, jobID)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM stem_artifacts WHERE job_id = ?", jobID); err != nil {
			return fmt.Errorf("delete stem artifacts: %w", err)
		}
		for i := range stems {
			a := &stems[i]
			if a.ID == "" {
				a.ID = uuid.NewString()
			}
			a.JobID = jobID
			a.CreatedAt = now
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO stem_artifacts ("+stemColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
				a.ID, a.JobID, a.URL, nullableString(a.StorageKey), a.StemType.String(), a.Label, a.Order, formatTime(now),
			); err != nil {
				return fmt.Errorf("insert stem artifact: %w", err)
			}
		}
		return nil
	})
}
