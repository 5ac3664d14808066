package domain

import "time"

// RunStatus enumerates batch run lifecycle states.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// ReportEntry is one accepted artifact recorded in the batch report.
type ReportEntry struct {
	ItemIndex  int       `json:"item_index"`
	OutputPath string    `json:"output_path"`
	Metadata   *Metadata `json:"metadata,omitempty"`
}

// BatchReport aggregates a batch run. Succeeded counts items that produced at
// least one accepted artifact; TotalAccepted always equals len(Entries).
type BatchReport struct {
	RunID      string        `json:"run_id"`
	Attempted  int           `json:"attempted"`
	Succeeded  int           `json:"succeeded"`
	Entries    []ReportEntry `json:"entries"`
	ReportPath string        `json:"report_path,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// TotalAccepted returns the number of accepted artifacts across all items.
func (r *BatchReport) TotalAccepted() int {
	if r == nil {
		return 0
	}
	return len(r.Entries)
}

// Run is the persisted record of one batch invocation.
type Run struct {
	ID           string
	Status       RunStatus
	Requested    int
	Attempted    int
	Succeeded    int
	ReportPath   string
	ErrorMessage string
	Entries      []ReportEntry
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
