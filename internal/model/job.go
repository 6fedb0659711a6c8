package model

import (
	"time"

	"github.com/trackfeedback/api/internal/stem"
)

// RenderJob is the persisted render state of one track submission.
type RenderJob struct {
	ID              string         `json:"id"`
	TrackID         string         `json:"trackId"`
	ProjectName     string         `json:"projectName"`
	ArchiveKey      string         `json:"archiveKey"`
	Tracks          []ProjectTrack `json:"tracks"`
	Tempo           float64        `json:"tempo"`
	DurationSeconds float64        `json:"durationSeconds"`
	Status          RenderStatus   `json:"status"`
	Error           *string        `json:"error,omitempty"`
	Attempts        int            `json:"attempts"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	StartedAt       *time.Time     `json:"startedAt,omitempty"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
}

// ProjectTrack is the part of a descriptor track a render needs.
type ProjectTrack struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Color       int      `json:"color"`
	SampleCount int      `json:"sampleCount"`
	Plugins     []string `json:"plugins"`
}

// StemArtifact is one rendered stem file.
type StemArtifact struct {
	ID         string    `json:"id"`
	JobID      string    `json:"jobId"`
	URL        string    `json:"url"`
	StorageKey string    `json:"-"`
	StemType   stem.Type `json:"stemType"`
	Label      string    `json:"label"`
	Order      int       `json:"order"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Task types
const (
	TaskTypeRenderStems = "render:stems"
	QueueRender         = "render"
)

// RenderTaskPayload is the queued render request.
type RenderTaskPayload struct {
	JobID       string `json:"jobId"`
	RequestedBy string `json:"requestedBy,omitempty"`
}
