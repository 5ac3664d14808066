package domain

import "strings"

// JobStatus enumerates provider task states. Values other than the ones below
// are passed through untouched.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusStaged     JobStatus = "staged"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// NormalizeJobStatus lowercases and trims a provider status string.
func NormalizeJobStatus(raw string) JobStatus {
	return JobStatus(strings.ToLower(strings.TrimSpace(raw)))
}

// GenerationJob is a handle to an in-flight provider task. ArtifactURLs is only
// populated once the job reached JobStatusCompleted.
type GenerationJob struct {
	ID           string
	Provider     string
	Status       JobStatus
	ArtifactURLs []string
}

// WorkItem is one requested generation unit within a batch.
type WorkItem struct {
	Index         int
	Name          string
	Keyword       string
	PromptContext string
	Prompt        string
	AspectRatio   string
}
