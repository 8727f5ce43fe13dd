package core

// WorkerSpec describes one unit of a dynamically produced plan. Specs are
// produced by the orchestrator's planning step and consumed by the
// parallel dispatcher; workers are designed to be independent, so
// DependsOn is normally empty.
type WorkerSpec struct {
	Role      string   `json:"role"`                 // Worker role identifier (e.g. "profile_analysis")
	Task      string   `json:"task"`                 // Sub-task description handed to the worker
	DependsOn []string `json:"depends_on,omitempty"` // Roles this worker depends on
}
