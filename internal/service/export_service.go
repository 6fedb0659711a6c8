package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/trackfeedback/api/internal/client"
	"github.com/trackfeedback/api/internal/model"
)

// StemReader is the slice of the job store the exporter reads.
type StemReader interface {
	Get(ctx context.Context, id string) (*model.RenderJob, error)
	ListStems(ctx context.Context, jobID string) ([]model.StemArtifact, error)
}

// ExportService bundles rendered stems into downloadable archives.
type ExportService struct {
	jobs   StemReader
	blobs  client.StorageClient
	logger *zap.Logger
}

// NewExportService creates a new export service
func NewExportService(jobs StemReader, blobs client.StorageClient, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{jobs: jobs, blobs: blobs, logger: logger}
}

// ExportKey is the blob key of a job's stem archive.
func ExportKey(jobID string) string {
	return fmt.Sprintf("exports/%s/%s-stems.zip", jobID, jobID)
}

// ExportStems zips every stored stem file of a completed job and uploads the
// archive. Stems recorded only by URL (external workers) are skipped.
func (s *ExportService) ExportStems(ctx context.Context, jobID string) (*model.ExportStemsResponse, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.RenderStatusCompleted {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotCompleted, jobID, job.Status)
	}
	stems, err := s.jobs.ListStems(ctx, jobID)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp("", "stems-*.zip")
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	count, err := s.writeArchive(ctx, tmp, stems)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNothingToExport
	}

	size, err := tmp.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to size export: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind export: %w", err)
	}

	url, err := s.blobs.Upload(ctx, ExportKey(jobID), tmp, "application/zip")
	if err != nil {
		return nil, fmt.Errorf("failed to upload export: %w", err)
	}

	s.logger.Info("stems exported", zap.String("job_id", jobID), zap.Int("files", count), zap.Int64("bytes", size))
	return &model.ExportStemsResponse{
		FileURL:   url,
		Size:      size,
		FileCount: count,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

func (s *ExportService) writeArchive(ctx context.Context, w io.Writer, stems []model.StemArtifact) (int, error) {
	zw := zip.NewWriter(w)
	count := 0
	for _, a := range stems {
		if a.StorageKey == "" {
			s.logger.Debug("skipping stem without stored file", zap.String("stem_id", a.ID), zap.String("url", a.URL))
			continue
		}
		rc, err := s.blobs.Download(ctx, a.StorageKey)
		if errors.Is(err, client.ErrObjectNotFound) {
			s.logger.Warn("stem file missing from storage", zap.String("key", a.StorageKey))
			continue
		}
		if err != nil {
			return 0, err
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     path.Base(a.StorageKey),
			Method:   zip.Deflate,
			Modified: a.CreatedAt,
		})
		if err != nil {
			rc.Close()
			return 0, fmt.Errorf("failed to add %s: %w", a.StorageKey, err)
		}
		_, err = io.Copy(fw, rc)
		rc.Close()
		if err != nil {
			return 0, fmt.Errorf("failed to copy %s: %w", a.StorageKey, err)
		}
		count++
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish export: %w", err)
	}
	return count, nil
}
