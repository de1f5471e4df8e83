package progress

import "time"

// Stage identifies which pipeline stage is active.
type Stage string

const (
	StageResearch   Stage = "research"
	StagePrioritize Stage = "prioritize"
	StageWrite      Stage = "write"
	StageEdit       Stage = "edit"
	StageComplete   Stage = "complete"
)

// Event carries progress information from the pipeline to the renderer.
type Event struct {
	Stage   Stage
	Message string
	Percent float64 // 0.0–1.0
	// StepNum and StepTotal count completion calls in the run.
	StepNum   int
	StepTotal int
	Elapsed   time.Duration
	Error     error
	// Issues is the validation issue count for the finished stage.
	Issues int
	// Date is the episode date, set on StageComplete.
	Date string
	// OutputFile is where the script was written, set on StageComplete.
	OutputFile string
}

// Callback is the function signature for progress event handlers.
type Callback func(Event)

// NopCallback is a no-op progress callback for tests and silent mode.
func NopCallback(Event) {}
