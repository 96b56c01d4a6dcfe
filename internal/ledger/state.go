package ledger

// TaskState is a task's lifecycle position. States advance strictly
// forward; Completed and Failed are terminal.
type TaskState string

const (
	StateQueued       TaskState = "queued"
	StateEmulating    TaskState = "emulating"
	StatePartitioning TaskState = "partitioning"
	StateProving      TaskState = "proving"
	StateAggregating  TaskState = "aggregating"
	StateWrapping     TaskState = "wrapping"
	StateCompleted    TaskState = "completed"
	StateFailed       TaskState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// next maps each non-terminal state to its allowed successors.
var next = map[TaskState][]TaskState{
	StateQueued:       {StateEmulating, StateFailed},
	StateEmulating:    {StatePartitioning, StateFailed},
	StatePartitioning: {StateProving, StateFailed},
	StateProving:      {StateAggregating, StateFailed},
	StateAggregating:  {StateWrapping, StateFailed},
	StateWrapping:     {StateCompleted, StateFailed},
}

// CanAdvance reports whether from -> to is a legal lifecycle transition.
func CanAdvance(from, to TaskState) bool {
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}
