package model

import (
	"time"

	"github.com/trackfeedback/api/internal/descriptor"
	"github.com/trackfeedback/api/internal/ingest"
	"github.com/trackfeedback/api/internal/stem"
)

// ProjectAnalysisResponse is the parse outcome returned to the analyzer.
type ProjectAnalysisResponse struct {
	SessionID       string                   `json:"sessionId"`
	ProjectName     string                   `json:"projectName"`
	CreatorVersion  string                   `json:"creatorVersion"`
	Tempo           float64                  `json:"tempo"`
	TimeSignature   descriptor.TimeSignature `json:"timeSignature"`
	LengthBeats     float64                  `json:"lengthBeats"`
	DurationSeconds float64                  `json:"durationSeconds"`
	Tracks          []TrackSummary           `json:"tracks"`
	Returns         []TrackSummary           `json:"returns"`
	Locators        []descriptor.Locator     `json:"locators"`
	Plugins         []string                 `json:"plugins"`
	Samples         []ingest.SampleInfo      `json:"samples"`
	Warnings        []string                 `json:"warnings"`
	Memory          MemoryUsage              `json:"memory"`
	CreatedAt       time.Time                `json:"createdAt"`
}

// TrackSummary describes one track for display.
type TrackSummary struct {
	Name        string    `json:"name"`
	Kind        string    `json:"kind"`
	Color       int       `json:"color"`
	ColorHex    string    `json:"colorHex"`
	StemType    stem.Type `json:"stemType"`
	SampleCount int       `json:"sampleCount"`
	SampleIDs   []string  `json:"sampleIds"`
	Plugins     []string  `json:"plugins"`
	Muted       bool      `json:"muted"`
	Solo        bool      `json:"solo"`
}

// MemoryUsage reports the analyzer's buffer accounting.
type MemoryUsage struct {
	LoadedBytes    int64 `json:"loadedBytes"`
	BudgetBytes    int64 `json:"budgetBytes"`
	PerFileCeiling int64 `json:"perFileCeilingBytes"`
}

// SampleActionResponse is returned by on-demand load and evict.
type SampleActionResponse struct {
	Sample ingest.SampleInfo `json:"sample"`
	Memory MemoryUsage       `json:"memory"`
}

// ProjectUploadResponse is returned when a project archive is attached to a
// track for rendering.
type ProjectUploadResponse struct {
	JobID          string                   `json:"jobId"`
	TrackID        string                   `json:"trackId"`
	ProjectName    string                   `json:"projectName"`
	Tempo          float64                  `json:"tempo"`
	TimeSignature  descriptor.TimeSignature `json:"timeSignature"`
	TrackCount     int                      `json:"trackCount"`
	Status         RenderStatus             `json:"status"`
	ArchiveURL     string                   `json:"archiveUrl"`
	ArchiveSize    int64                    `json:"archiveSize"`
	CreatorVersion string                   `json:"creatorVersion"`
}
