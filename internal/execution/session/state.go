package session

// State is the lifecycle position of a session.
type State int32

const (
	StateIdle State = iota
	StatePreparing
	StateCompiling
	StateRunning
	StateCompileFailed
	StateCompleted
	StateTimedOut
	StateKilled
	StateRuntimeError
	// StateFailed is reached when the run never started because of a
	// workspace or configuration error. No outcome is emitted for it.
	StateFailed
)

var stateNames = [...]string{
	StateIdle:          "idle",
	StatePreparing:     "preparing",
	StateCompiling:     "compiling",
	StateRunning:       "running",
	StateCompileFailed: "compile_failed",
	StateCompleted:     "completed",
	StateTimedOut:      "timed_out",
	StateKilled:        "killed",
	StateRuntimeError:  "runtime_error",
	StateFailed:        "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s >= StateCompileFailed
}
