package runner

import "time"

// Node execution statuses.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// NodeExecutionRecord is the outcome of one node for one user. It is
// created at dispatch, finalized exactly once, and treated as immutable
// afterwards.
type NodeExecutionRecord struct {
	NodeID   string
	NodeName string
	NodeType string

	Status string
	Error  string

	StartTime  time.Time
	EndTime    time.Time
	DurationMS float64

	// Request and Response are recorded verbatim for action nodes.
	Request  map[string]any
	Response map[string]any
}

// finalize stamps the terminal status and timing. The first call wins.
func (r *NodeExecutionRecord) finalize(status, errMsg string) {
	if r.Status == StatusSuccess || r.Status == StatusFailed || r.Status == StatusSkipped {
		return
	}
	r.Status = status
	r.Error = errMsg
	r.EndTime = time.Now()
	if !r.StartTime.IsZero() {
		r.DurationMS = float64(r.EndTime.Sub(r.StartTime)) / float64(time.Millisecond)
	}
}

// UserExecution is one virtual user's full pass over the scenario graph.
// It owns one UserContext and the per-node records; only the user's own
// goroutine mutates it.
type UserExecution struct {
	RunID  string
	UserID string

	Status string
	Error  string

	Context       *UserContext
	Records       map[string]*NodeExecutionRecord
	Conversations map[string]*Conversation

	StartTime time.Time
	EndTime   time.Time
}

// Failed reports whether any node ended failed or the user itself errored.
// Skipped nodes alone do not fail a user.
func (u *UserExecution) Failed() bool {
	if u.Status == StatusFailed {
		return true
	}
	for _, record := range u.Records {
		if record.Status == StatusFailed {
			return true
		}
	}
	return false
}
