package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/trackfeedback/api/internal/archive"
	"github.com/trackfeedback/api/internal/client"
	"github.com/trackfeedback/api/internal/ingest"
	"github.com/trackfeedback/api/internal/model"
	"github.com/trackfeedback/api/internal/render"
	"github.com/trackfeedback/api/internal/stem"
	"github.com/trackfeedback/api/internal/store"
	"github.com/trackfeedback/api/internal/testsupport"
	"github.com/trackfeedback/api/internal/tone"
)

type env struct {
	store    *store.Store
	blobs    *client.LocalStorage
	projects *ProjectService
	renders  *RenderService
	exports  *ExportService
	inline   *render.InlineDispatcher
	orch     *render.Orchestrator
	notifier *recordingNotifier
}

type recordingNotifier struct {
	mu   sync.Mutex
	jobs []string
}

func (n *recordingNotifier) BroadcastComplete(jobID string, _ interface{}) {
	n.mu.Lock()
	n.jobs = append(n.jobs, jobID)
	n.mu.Unlock()
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "renders.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	blobs, err := client.NewLocalStorage(filepath.Join(dir, "blobs"), "/files")
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	logger := zap.NewNop()
	sessions := ingest.NewSessions(time.Hour, logger)
	t.Cleanup(sessions.CloseAll)
	loader := ingest.NewLoader(ingest.DefaultLimits(), logger)

	enc := tone.NewEncoder(tone.Options{MinSeconds: 2, MaxSeconds: 2, MinRate: 8000, MaxRate: 8000, Headroom: 0.15})
	orch := render.NewOrchestrator(st, blobs, enc, render.Options{}, logger)
	inline := render.NewInlineDispatcher(orch, nil, logger)
	notifier := &recordingNotifier{}

	return &env{
		store:    st,
		blobs:    blobs,
		projects: NewProjectService(st, blobs, loader, sessions, 1<<20, logger),
		renders:  NewRenderService(st, orch, inline, notifier, logger),
		exports:  NewExportService(st, blobs, logger),
		inline:   inline,
		orch:     orch,
		notifier: notifier,
	}
}

func projectArchive(t *testing.T) []byte {
	t.Helper()
	return testsupport.Bundle(t, "Night Drive Project", "Night Drive", testsupport.Project{
		Tempo:       128,
		Numerator:   3,
		Denominator: 4,
		LengthBeats: 256,
		Tracks: []testsupport.Track{
			{Name: "Kick", Samples: []string{"Samples/Kick.wav"}, Color: 4},
			{Name: "Sub Bass", Kind: "midi", Plugins: []string{"Serum"}},
			{Name: "Lead Vocal", Samples: []string{"Samples/Vox.wav", "Samples/Gone.wav"}},
		},
	},
		testsupport.File{Path: "Night Drive Project/Samples/Kick.wav", Data: testsupport.Payload(2048)},
		testsupport.File{Path: "Night Drive Project/Samples/Vox.wav", Data: testsupport.Payload(4096)},
	)
}

func (e *env) upload(t *testing.T, trackID string) *model.ProjectUploadResponse {
	t.Helper()
	data := projectArchive(t)
	resp, err := e.projects.UploadForRender(context.Background(), trackID, "night drive.zip", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("UploadForRender: %v", err)
	}
	return resp
}

func TestUploadForRenderCreatesPendingJob(t *testing.T) {
	e := newEnv(t)
	resp := e.upload(t, "track-1")

	if resp.Status != model.RenderStatusPending || resp.TrackCount != 3 || resp.Tempo != 128 {
		t.Errorf("response = %+v", resp)
	}
	if resp.ProjectName != "Night Drive" || resp.TimeSignature.String() != "3/4" {
		t.Errorf("project = %q %s", resp.ProjectName, resp.TimeSignature)
	}

	job, err := e.store.Get(context.Background(), resp.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.DurationSeconds != 120 {
		t.Errorf("duration = %v", job.DurationSeconds)
	}
	if job.Tracks[2].SampleCount != 2 || job.Tracks[1].Plugins[0] != "Serum" {
		t.Errorf("tracks = %+v", job.Tracks)
	}

	rc, err := e.blobs.Download(context.Background(), job.ArchiveKey)
	if err != nil {
		t.Fatalf("archive not stored: %v", err)
	}
	rc.Close()
}

func TestUploadForRenderRejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	big := make([]byte, 2<<20)
	if _, err := e.projects.UploadForRender(ctx, "t", "big.zip", bytes.NewReader(big), int64(len(big))); !errors.Is(err, ErrArchiveTooLarge) {
		t.Errorf("expected ErrArchiveTooLarge, got %v", err)
	}

	noDescriptor := testsupport.Zip(t, testsupport.File{Path: "Samples/Kick.wav", Data: testsupport.Payload(10)})
	if _, err := e.projects.UploadForRender(ctx, "t", "x.zip", bytes.NewReader(noDescriptor), int64(len(noDescriptor))); !errors.Is(err, archive.ErrDescriptorNotFound) {
		t.Errorf("expected ErrDescriptorNotFound, got %v", err)
	}

	resp := e.upload(t, "track-1")
	if _, err := e.orch.Begin(ctx, resp.JobID); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	data := projectArchive(t)
	if _, err := e.projects.UploadForRender(ctx, "track-1", "again.zip", bytes.NewReader(data), int64(len(data))); !errors.Is(err, store.ErrAlreadyRendering) {
		t.Errorf("expected ErrAlreadyRendering, got %v", err)
	}
}

func TestArchiveKey(t *testing.T) {
	at := time.Unix(1700000000, 0)
	cases := map[string]string{
		"night drive.zip":         "ableton-projects/t/1700000000-night_drive.zip",
		`C:\Users\me\Project.zip`: "ableton-projects/t/1700000000-Project.zip",
		"../../etc.zip":           "ableton-projects/t/1700000000-etc.zip",
		"":                        "ableton-projects/t/1700000000-project.zip",
	}
	for in, want := range cases {
		if got := ArchiveKey("t", at, in); got != want {
			t.Errorf("ArchiveKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAnalyzeSessionLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	data := projectArchive(t)

	analysis, err := e.projects.Analyze(ctx, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(analysis.Tracks) != 3 || len(analysis.Samples) != 2 {
		t.Fatalf("tracks=%d samples=%d", len(analysis.Tracks), len(analysis.Samples))
	}
	if analysis.Tracks[0].StemType != stem.Drums || analysis.Tracks[2].StemType != stem.Vocals {
		t.Errorf("stem types = %s %s", analysis.Tracks[0].StemType, analysis.Tracks[2].StemType)
	}
	if len(analysis.Warnings) != 1 || analysis.Warnings[0] != "sample not found: Gone.wav" {
		t.Errorf("warnings = %v", analysis.Warnings)
	}
	if analysis.Memory.LoadedBytes != 6144 {
		t.Errorf("loaded bytes = %d", analysis.Memory.LoadedBytes)
	}

	sampleID := analysis.Tracks[0].SampleIDs[0]
	evicted, err := e.projects.EvictSample(analysis.SessionID, sampleID)
	if err != nil {
		t.Fatalf("EvictSample: %v", err)
	}
	if evicted.Sample.Loaded || evicted.Memory.LoadedBytes != 4096 {
		t.Errorf("after evict = %+v", evicted)
	}
	if _, _, err := e.projects.SampleData(analysis.SessionID, sampleID); !errors.Is(err, ingest.ErrSampleNotLoaded) {
		t.Errorf("expected ErrSampleNotLoaded, got %v", err)
	}

	if _, err := e.projects.LoadSample(ctx, analysis.SessionID, sampleID); err != nil {
		t.Fatalf("LoadSample: %v", err)
	}
	payload, mime, err := e.projects.SampleData(analysis.SessionID, sampleID)
	if err != nil {
		t.Fatalf("SampleData: %v", err)
	}
	if len(payload) != 2048 || mime != "audio/wav" {
		t.Errorf("data len %d mime %s", len(payload), mime)
	}

	if err := e.projects.CloseSession(analysis.SessionID); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if _, err := e.projects.GetAnalysis(analysis.SessionID); !errors.Is(err, ingest.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestTriggerRendersAndReportsStatus(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	up := e.upload(t, "track-1")

	trig, err := e.renders.TriggerForTrack(ctx, "track-1", "admin")
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if trig.Status != model.RenderStatusRendering || trig.JobID != up.JobID {
		t.Errorf("trigger = %+v", trig)
	}
	e.inline.Wait()

	status, err := e.renders.GetStatus(ctx, up.JobID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Status != model.RenderStatusCompleted || status.Progress != 100 || status.Message != "Complete" {
		t.Errorf("status = %s %d %q", status.Status, status.Progress, status.Message)
	}
	if len(status.Stems) != 4 {
		t.Fatalf("stems = %d", len(status.Stems))
	}
	for i, a := range status.Stems {
		if a.Order != i {
			t.Errorf("stem %d order %d", i, a.Order)
		}
	}

	if _, err := e.renders.Trigger(ctx, up.JobID, "admin"); !errors.Is(err, store.ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted, got %v", err)
	}
}

func TestConcurrentTriggersOneWins(t *testing.T) {
	e := newEnv(t)
	up := e.upload(t, "track-1")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.renders.Trigger(context.Background(), up.JobID, "admin")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, store.ErrAlreadyRendering), errors.Is(err, store.ErrAlreadyCompleted):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	e.inline.Wait()
	if accepted != 1 || rejected != 5 {
		t.Errorf("accepted=%d rejected=%d", accepted, rejected)
	}
}

type failingDispatcher struct{}

func (failingDispatcher) Dispatch(context.Context, string, string) error {
	return errors.New("redis down")
}

func TestTriggerDispatchFailureMarksFailed(t *testing.T) {
	e := newEnv(t)
	up := e.upload(t, "track-1")
	svc := NewRenderService(e.store, e.orch, failingDispatcher{}, nil, zap.NewNop())

	if _, err := svc.Trigger(context.Background(), up.JobID, "admin"); err == nil {
		t.Fatal("expected dispatch error")
	}
	status, err := svc.GetStatus(context.Background(), up.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if status.Status != model.RenderStatusFailed || status.Message != "redis down" {
		t.Errorf("status = %s %q", status.Status, status.Message)
	}
}

func TestListStates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first := e.upload(t, "track-1")
	e.upload(t, "track-2")

	if _, err := e.renders.Trigger(ctx, first.JobID, "admin"); err != nil {
		t.Fatal(err)
	}
	e.inline.Wait()

	active, err := e.renders.List(ctx, model.RenderStateActive, 0)
	if err != nil {
		t.Fatalf("List active: %v", err)
	}
	if active.Count != 1 || active.Jobs[0].TrackID != "track-2" {
		t.Errorf("active = %+v", active)
	}
	finished, err := e.renders.List(ctx, model.RenderStateFinished, 0)
	if err != nil {
		t.Fatalf("List finished: %v", err)
	}
	if finished.Count != 1 || finished.Jobs[0].ID != first.JobID {
		t.Errorf("finished = %+v", finished)
	}
	if _, err := e.renders.List(ctx, "stuck", 0); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func intPtr(v int) *int { return &v }

func TestCompleteFromWorker(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	up := e.upload(t, "track-1")

	dup := &model.WorkerCompleteRequest{Stems: []model.WorkerStem{
		{URL: "https://cdn/a.wav", StemType: "DRUMS", Label: "Drums", Order: intPtr(1)},
		{URL: "https://cdn/b.wav", StemType: "BASS", Label: "Bass", Order: intPtr(1)},
	}}
	if _, err := e.renders.CompleteFromWorker(ctx, up.JobID, dup); !errors.Is(err, ErrDuplicateOrder) {
		t.Errorf("expected ErrDuplicateOrder, got %v", err)
	}

	req := &model.WorkerCompleteRequest{Stems: []model.WorkerStem{
		{URL: "https://cdn/b.wav", StemType: "effects", Label: "Atmos", Order: intPtr(2)},
		{URL: "https://cdn/m.wav", StemType: "MASTER", Label: "Master", Order: intPtr(0)},
		{URL: "https://cdn/x.wav", StemType: "kazoo", Label: "Kazoo", Order: intPtr(1)},
	}}
	resp, err := e.renders.CompleteFromWorker(ctx, up.JobID, req)
	if err != nil {
		t.Fatalf("CompleteFromWorker: %v", err)
	}
	if resp.StemCount != 3 {
		t.Errorf("stem count = %d", resp.StemCount)
	}
	status, _ := e.renders.GetStatus(ctx, up.JobID)
	types := []stem.Type{status.Stems[0].StemType, status.Stems[1].StemType, status.Stems[2].StemType}
	if status.Status != model.RenderStatusCompleted || types[0] != stem.Master || types[1] != stem.Other || types[2] != stem.FX {
		t.Errorf("status %s types %v", status.Status, types)
	}
	if len(e.notifier.jobs) != 1 || e.notifier.jobs[0] != up.JobID {
		t.Errorf("notifications = %v", e.notifier.jobs)
	}

	if _, err := e.renders.CompleteFromWorker(ctx, up.JobID, req); !errors.Is(err, store.ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted, got %v", err)
	}
}

func TestCompleteFromWorkerLogsUnknownType(t *testing.T) {
	e := newEnv(t)
	core, logs := observer.New(zap.WarnLevel)
	svc := NewRenderService(e.store, e.orch, e.inline, e.notifier, zap.New(core))
	up := e.upload(t, "track-2")

	req := &model.WorkerCompleteRequest{Stems: []model.WorkerStem{
		{URL: "https://cdn/m.wav", StemType: "MASTER", Label: "Master", Order: intPtr(0)},
		{URL: "https://cdn/x.wav", StemType: "kazoo", Label: "Kazoo", Order: intPtr(1)},
	}}
	if _, err := svc.CompleteFromWorker(context.Background(), up.JobID, req); err != nil {
		t.Fatalf("CompleteFromWorker: %v", err)
	}

	entries := logs.FilterMessage("unknown stem type from worker").All()
	if len(entries) != 1 {
		t.Fatalf("expected one warning, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["stem_type"]; got != "kazoo" {
		t.Errorf("stem_type = %v", got)
	}
}

func TestExportStems(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	up := e.upload(t, "track-1")

	if _, err := e.exports.ExportStems(ctx, up.JobID); !errors.Is(err, ErrNotCompleted) {
		t.Errorf("expected ErrNotCompleted, got %v", err)
	}

	if _, err := e.orch.Render(ctx, up.JobID, nil); err != nil {
		t.Fatalf("Render: %v", err)
	}
	resp, err := e.exports.ExportStems(ctx, up.JobID)
	if err != nil {
		t.Fatalf("ExportStems: %v", err)
	}
	if resp.FileCount != 4 || resp.FileURL != "/files/"+ExportKey(up.JobID) {
		t.Errorf("export = %+v", resp)
	}

	rc, err := e.blobs.Download(ctx, ExportKey(up.JobID))
	if err != nil {
		t.Fatalf("Download export: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if int64(len(data)) != resp.Size {
		t.Errorf("size %d, reported %d", len(data), resp.Size)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip.NewReader: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	want := []string{"00-master.wav", "01-kick.wav", "02-sub-bass.wav", "03-lead-vocal.wav"}
	for i := range want {
		if i >= len(names) || names[i] != want[i] {
			t.Fatalf("zip entries = %v", names)
		}
	}
}
