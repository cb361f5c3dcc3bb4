// File: api/schemas/results.go
package schemas

// RunStatus is the lifecycle of a single generation or evaluation run.
type RunStatus string

const (
	RunNotStarted RunStatus = "not_started"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCanceled   RunStatus = "canceled"
)

// Issue describes a single problem found while scoring a rule.
// Severity runs 1 (minor) to 3 (blocking).
type Issue struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Severity    int    `json:"severity"`
}

// Recommendation is an improvement suggestion attached to a result.
// Importance runs 1 (nice to have) to 3 (essential).
type Recommendation struct {
	Description string `json:"description"`
	Importance  int    `json:"importance"`
}
