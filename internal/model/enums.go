package model

// RenderStatus is the lifecycle state of a render job.
type RenderStatus string

const (
	RenderStatusPending   RenderStatus = "PENDING"
	RenderStatusRendering RenderStatus = "RENDERING"
	RenderStatusCompleted RenderStatus = "COMPLETED"
	RenderStatusFailed    RenderStatus = "FAILED"
)

// Progress maps a status to the coarse percentage and message shown to users.
func (s RenderStatus) Progress() (int, string) {
	switch s {
	case RenderStatusPending:
		return 0, "Waiting to start..."
	case RenderStatusRendering:
		return 50, "Rendering stems..."
	case RenderStatusCompleted:
		return 100, "Complete"
	case RenderStatusFailed:
		return 0, "Failed"
	default:
		return 0, string(s)
	}
}

// Render job listing states
const (
	RenderStateActive   = "active"
	RenderStateFinished = "finished"
)
