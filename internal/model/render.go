package model

import "time"

// RenderTriggerResponse is returned when a render is accepted.
type RenderTriggerResponse struct {
	JobID   string       `json:"jobId"`
	Status  RenderStatus `json:"status"`
	Message string       `json:"message"`
}

// RenderStatusResponse is the status view of one job.
type RenderStatusResponse struct {
	JobID       string         `json:"jobId"`
	TrackID     string         `json:"trackId"`
	ProjectName string         `json:"projectName"`
	Status      RenderStatus   `json:"status"`
	Progress    int            `json:"progress"`
	Message     string         `json:"message"`
	Error       *string        `json:"error,omitempty"`
	Attempts    int            `json:"attempts"`
	Stems       []StemArtifact `json:"stems"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// RenderListResponse is the admin dashboard listing.
type RenderListResponse struct {
	State string      `json:"state"`
	Jobs  []RenderJob `json:"jobs"`
	Count int         `json:"count"`
}

// WorkerCompleteRequest is posted by an external render worker.
type WorkerCompleteRequest struct {
	Stems []WorkerStem `json:"stems" validate:"required,min=1,max=64,dive"`
}

// WorkerStem is one stem produced by an external worker.
type WorkerStem struct {
	URL      string `json:"url" validate:"required,max=2048"`
	StemType string `json:"stemType" validate:"required,max=32"`
	Label    string `json:"label" validate:"required,max=100"`
	Order    *int   `json:"order" validate:"required,min=0,max=1000"`
}

// WorkerCompleteResponse acknowledges an external completion.
type WorkerCompleteResponse struct {
	Success   bool   `json:"success"`
	JobID     string `json:"jobId"`
	StemCount int    `json:"stemCount"`
}

// ExportStemsResponse describes a zipped stem bundle.
type ExportStemsResponse struct {
	FileURL   string    `json:"fileUrl"`
	Size      int64     `json:"size"`
	FileCount int       `json:"fileCount"`
	ExpiresAt time.Time `json:"expiresAt"`
}
