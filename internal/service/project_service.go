package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/trackfeedback/api/internal/client"
	"github.com/trackfeedback/api/internal/descriptor"
	"github.com/trackfeedback/api/internal/ingest"
	"github.com/trackfeedback/api/internal/model"
	"github.com/trackfeedback/api/internal/stem"
)

// JobWriter is the slice of the job store used when a project is attached to
// a track.
type JobWriter interface {
	UpsertPending(ctx context.Context, job *model.RenderJob) (*model.RenderJob, error)
}

// ProjectService accepts project archives, either for rendering or for the
// interactive analyzer.
type ProjectService struct {
	jobs            JobWriter
	blobs           client.StorageClient
	loader          *ingest.Loader
	sessions        *ingest.Sessions
	maxArchiveBytes int64
	logger          *zap.Logger
}

func NewProjectService(jobs JobWriter, blobs client.StorageClient, loader *ingest.Loader, sessions *ingest.Sessions, maxArchiveBytes int64, logger *zap.Logger) *ProjectService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProjectService{
		jobs:            jobs,
		blobs:           blobs,
		loader:          loader,
		sessions:        sessions,
		maxArchiveBytes: maxArchiveBytes,
		logger:          logger,
	}
}

// MaxArchiveBytes is the upload ceiling.
func (s *ProjectService) MaxArchiveBytes() int64 {
	return s.maxArchiveBytes
}

func (s *ProjectService) checkSize(size int64) error {
	if s.maxArchiveBytes > 0 && size > s.maxArchiveBytes {
		return fmt.Errorf("%w: %s exceeds %s", ErrArchiveTooLarge,
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(s.maxArchiveBytes)))
	}
	return nil
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ArchiveKey is the blob key an uploaded project archive is stored under.
func ArchiveKey(trackID string, at time.Time, filename string) string {
	name := unsafeKeyChars.ReplaceAllString(path.Base(strings.ReplaceAll(filename, "\\", "/")), "_")
	if name == "" || name == "." || name == ".." {
		name = "project.zip"
	}
	return fmt.Sprintf("ableton-projects/%s/%d-%s", trackID, at.Unix(), name)
}

// UploadForRender validates an archive, stores it and resets the track's
// render job to PENDING with the decoded project.
func (s *ProjectService) UploadForRender(ctx context.Context, trackID, filename string, file io.ReaderAt, size int64) (*model.ProjectUploadResponse, error) {
	if err := s.checkSize(size); err != nil {
		return nil, err
	}

	ix, project, err := ingest.Parse(file, size)
	if err != nil {
		return nil, err
	}
	projectName := ix.ProjectName()
	ix.Close()

	key := ArchiveKey(trackID, time.Now(), filename)
	archiveURL, err := s.blobs.Upload(ctx, key, io.NewSectionReader(file, 0, size), "application/zip")
	if err != nil {
		return nil, fmt.Errorf("failed to store project archive: %w", err)
	}

	tracks := make([]model.ProjectTrack, len(project.Tracks))
	for i, t := range project.Tracks {
		tracks[i] = model.ProjectTrack{
			Name:        t.Name,
			Kind:        string(t.Kind),
			Color:       t.Color,
			SampleCount: len(t.SampleRefs),
			Plugins:     t.Plugins,
		}
	}

	job, err := s.jobs.UpsertPending(ctx, &model.RenderJob{
		TrackID:         trackID,
		ProjectName:     projectName,
		ArchiveKey:      key,
		Tracks:          tracks,
		Tempo:           project.Tempo,
		DurationSeconds: project.DurationSeconds(),
	})
	if err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.logger.Warn("failed to remove rejected archive", zap.String("key", key), zap.Error(delErr))
		}
		return nil, err
	}

	s.logger.Info("project attached to track",
		zap.String("track_id", trackID),
		zap.String("job_id", job.ID),
		zap.String("project", projectName),
		zap.Int("tracks", len(tracks)),
	)

	return &model.ProjectUploadResponse{
		JobID:          job.ID,
		TrackID:        trackID,
		ProjectName:    projectName,
		Tempo:          project.Tempo,
		TimeSignature:  project.TimeSignature,
		TrackCount:     len(tracks),
		Status:         job.Status,
		ArchiveURL:     archiveURL,
		ArchiveSize:    size,
		CreatorVersion: project.CreatorVersion,
	}, nil
}

// Analyze spools an archive to disk, builds an asset bundle from it and opens
// an analyzer session. The spooled copy is removed when the session closes.
func (s *ProjectService) Analyze(ctx context.Context, src io.Reader, size int64) (*model.ProjectAnalysisResponse, error) {
	if err := s.checkSize(size); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp("", "project-*.zip")
	if err != nil {
		return nil, fmt.Errorf("failed to spool archive: %w", err)
	}
	limit := s.maxArchiveBytes
	if limit <= 0 {
		limit = size
	}
	n, err := io.Copy(tmp, io.LimitReader(src, limit+1))
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to spool archive: %w", err)
	}
	if s.maxArchiveBytes > 0 && n > s.maxArchiveBytes {
		os.Remove(tmp.Name())
		return nil, s.checkSize(n)
	}

	b, err := s.loader.LoadFile(ctx, tmp.Name(), true)
	if err != nil {
		return nil, err
	}
	s.sessions.Put(b)
	return s.analysis(b), nil
}

// GetAnalysis returns the current view of an open session.
func (s *ProjectService) GetAnalysis(sessionID string) (*model.ProjectAnalysisResponse, error) {
	b, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return s.analysis(b), nil
}

// LoadSample materializes one sample on demand.
func (s *ProjectService) LoadSample(ctx context.Context, sessionID, sampleID string) (*model.SampleActionResponse, error) {
	b, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	info, err := b.Load(ctx, sampleID)
	if err != nil {
		return nil, err
	}
	return &model.SampleActionResponse{Sample: info, Memory: memoryUsage(b)}, nil
}

// EvictSample releases one loaded sample.
func (s *ProjectService) EvictSample(sessionID, sampleID string) (*model.SampleActionResponse, error) {
	b, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	info, err := b.Evict(sampleID)
	if err != nil {
		return nil, err
	}
	return &model.SampleActionResponse{Sample: info, Memory: memoryUsage(b)}, nil
}

// SampleData returns the bytes of a loaded sample and its MIME type.
func (s *ProjectService) SampleData(sessionID, sampleID string) ([]byte, string, error) {
	b, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, "", err
	}
	data, handle, err := b.Data(sampleID)
	if err != nil {
		return nil, "", err
	}
	mime := "application/octet-stream"
	if handle != nil && handle.MIMEType != "" {
		mime = handle.MIMEType
	}
	return data, mime, nil
}

// CloseSession releases a session's buffers.
func (s *ProjectService) CloseSession(sessionID string) error {
	return s.sessions.Close(sessionID)
}

func (s *ProjectService) analysis(b *ingest.Bundle) *model.ProjectAnalysisResponse {
	p := b.Project
	resp := &model.ProjectAnalysisResponse{
		SessionID:       b.ID,
		ProjectName:     b.ProjectName,
		CreatorVersion:  p.CreatorVersion,
		Tempo:           p.Tempo,
		TimeSignature:   p.TimeSignature,
		LengthBeats:     p.LengthBeats,
		DurationSeconds: p.DurationSeconds(),
		Tracks:          make([]model.TrackSummary, 0, len(b.Tracks)),
		Returns:         make([]model.TrackSummary, 0, len(p.Returns)),
		Locators:        p.Locators,
		Plugins:         p.Plugins(),
		Samples:         b.Samples(),
		Warnings:        b.Warnings,
		Memory:          memoryUsage(b),
		CreatedAt:       b.CreatedAt,
	}
	if resp.Locators == nil {
		resp.Locators = []descriptor.Locator{}
	}
	if resp.Plugins == nil {
		resp.Plugins = []string{}
	}
	for _, rt := range b.Tracks {
		summary := trackSummary(rt.Track)
		for _, smp := range rt.Samples {
			summary.SampleIDs = append(summary.SampleIDs, smp.ID)
		}
		summary.SampleCount = len(summary.SampleIDs)
		resp.Tracks = append(resp.Tracks, summary)
	}
	for _, t := range p.Returns {
		resp.Returns = append(resp.Returns, trackSummary(t))
	}
	return resp
}

func trackSummary(t descriptor.Track) model.TrackSummary {
	return model.TrackSummary{
		Name:      t.Name,
		Kind:      string(t.Kind),
		Color:     t.Color,
		ColorHex:  descriptor.ColorHex(t.Color),
		StemType:  stem.Classify(t.Name),
		SampleIDs: []string{},
		Plugins:   t.Plugins,
		Muted:     t.Muted,
		Solo:      t.Solo,
	}
}

func memoryUsage(b *ingest.Bundle) model.MemoryUsage {
	limits := b.Limits()
	return model.MemoryUsage{
		LoadedBytes:    b.Total(),
		BudgetBytes:    limits.MemoryBudget,
		PerFileCeiling: limits.PerFileCeiling,
	}
}
