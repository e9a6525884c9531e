// Package model holds the wire and domain types of the student run channel.
package model

import (
	"strings"
	"time"

	appErr "livecode/pkg/errors"
)

// StdinPolicy controls how the program's standard input is fed.
type StdinPolicy string

const (
	// StdinInteractive keeps stdin open and forwards input events.
	StdinInteractive StdinPolicy = "interactive"
	// StdinClosed writes the preset Stdin and then closes stdin.
	StdinClosed StdinPolicy = "closed"
)

// RunRequest is immutable once accepted.
type RunRequest struct {
	Language    string      `json:"language"`
	Source      string      `json:"source"`
	StdinPolicy StdinPolicy `json:"stdinPolicy,omitempty"`
	Stdin       string      `json:"stdin,omitempty"`
}

// Validate normalizes the request in place and checks its bounds.
func (r *RunRequest) Validate(maxSourceBytes int) error {
	r.Language = strings.ToLower(strings.TrimSpace(r.Language))
	if r.Language == "" {
		return appErr.ValidationError("language", "required")
	}
	if strings.TrimSpace(r.Source) == "" {
		return appErr.ValidationError("source", "required")
	}
	if maxSourceBytes > 0 && len(r.Source) > maxSourceBytes {
		return appErr.Newf(appErr.CodeTooLarge, "source exceeds %d bytes", maxSourceBytes)
	}
	switch r.StdinPolicy {
	case "":
		r.StdinPolicy = StdinInteractive
	case StdinInteractive, StdinClosed:
	default:
		return appErr.ValidationError("stdinPolicy", "must be interactive or closed")
	}
	return nil
}

// OutcomeKind classifies how a run ended.
type OutcomeKind string

const (
	OutcomeCompileError OutcomeKind = "CompileError"
	OutcomeRuntimeError OutcomeKind = "RuntimeError"
	OutcomeTimedOut     OutcomeKind = "TimedOut"
	OutcomeKilled       OutcomeKind = "Killed"
	OutcomeCompleted    OutcomeKind = "Completed"
)

// KillReason qualifies a Killed outcome.
type KillReason string

const (
	ReasonStopped      KillReason = "stopped"
	ReasonDisconnected KillReason = "disconnected"
	ReasonOutputLimit  KillReason = "output_limit"
	ReasonMemoryLimit  KillReason = "memory_limit"
	ReasonShutdown     KillReason = "shutdown"
)

// RunOutcome is emitted exactly once per session that reaches compile or run.
type RunOutcome struct {
	Kind       OutcomeKind `json:"kind"`
	ExitCode   *int        `json:"exitCode,omitempty"`
	CompileLog string      `json:"compileLog,omitempty"`
	ElapsedMs  int64       `json:"elapsedMs"`
	Reason     KillReason  `json:"reason,omitempty"`
}

// Code maps the outcome onto the error taxonomy. Completed maps to Success.
func (o RunOutcome) Code() appErr.ErrorCode {
	switch o.Kind {
	case OutcomeCompileError:
		return appErr.CompilationError
	case OutcomeRuntimeError:
		return appErr.RuntimeError
	case OutcomeTimedOut:
		return appErr.TimeLimitExceeded
	case OutcomeKilled:
		switch o.Reason {
		case ReasonOutputLimit:
			return appErr.OutputLimitExceeded
		case ReasonMemoryLimit:
			return appErr.MemoryLimitExceeded
		}
		return appErr.ExecutionKilled
	default:
		return appErr.Success
	}
}

// Stream tags output chunks.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// TranscriptChunk is one forwarded output chunk.
type TranscriptChunk struct {
	Stream Stream `json:"stream"`
	Data   string `json:"data"`
}

// Transcript is the archived record of a finished session.
type Transcript struct {
	SessionID    string            `json:"sessionId"`
	ConnectionID string            `json:"connectionId"`
	Language     string            `json:"language"`
	Source       string            `json:"source"`
	StartedAt    time.Time         `json:"startedAt"`
	FinishedAt   time.Time         `json:"finishedAt"`
	Outcome      *RunOutcome       `json:"outcome,omitempty"`
	Error        string            `json:"error,omitempty"`
	Output       []TranscriptChunk `json:"output"`
}
