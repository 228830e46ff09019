package database

// Workflow names recorded in run history.
const (
	WorkflowSearch  = "search"
	WorkflowPosts   = "posts"
	WorkflowAnalyze = "analyze"
	WorkflowChannel = "channel"
)

// Run status values.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Run is one recorded workflow invocation. Only counts are stored, never
// posts or analysis payloads.
type Run struct {
	ID          string
	Workflow    string
	Input       string
	Method      *string
	Status      string
	ItemCount   int
	ErrorCount  int
	JudgeRounds int
	Detail      *string
	StartedAt   string
	FinishedAt  *string
}

// Stats summarizes run history.
type Stats struct {
	TotalRuns   int
	FailedRuns  int
	ItemsSeen   int
	Errors      int
	ByWorkflow  map[string]int
	LastStarted string
}
