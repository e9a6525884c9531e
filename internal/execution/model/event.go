package model

import (
	appErr "livecode/pkg/errors"
)

// EventType tags frames sent to the student.
type EventType string

const (
	EventStarted    EventType = "started"
	EventCompileLog EventType = "compile_log"
	EventOutput     EventType = "output"
	EventNotice     EventType = "notice"
	EventOutcome    EventType = "outcome"
	EventError      EventType = "error"
)

// Event is one outbound frame on the student channel.
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Stream    Stream      `json:"stream,omitempty"`
	Data      string      `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Outcome   *RunOutcome `json:"outcome,omitempty"`
	Code      int         `json:"code,omitempty"`
}

func StartedEvent(sessionID string) Event {
	return Event{Type: EventStarted, SessionID: sessionID}
}

func CompileLogEvent(sessionID, log string) Event {
	return Event{Type: EventCompileLog, SessionID: sessionID, Data: log}
}

func OutputEvent(sessionID string, stream Stream, data string) Event {
	return Event{Type: EventOutput, SessionID: sessionID, Stream: stream, Data: data}
}

func NoticeEvent(sessionID, message string) Event {
	return Event{Type: EventNotice, SessionID: sessionID, Message: message}
}

func OutcomeEvent(sessionID string, outcome RunOutcome) Event {
	return Event{Type: EventOutcome, SessionID: sessionID, Outcome: &outcome}
}

// ErrorEvent renders err with its code from the error taxonomy.
func ErrorEvent(sessionID string, err error) Event {
	e := appErr.GetError(err)
	return Event{Type: EventError, SessionID: sessionID, Code: int(e.Code), Message: e.Describe()}
}

// ClientFrameType tags frames received from the student.
type ClientFrameType string

const (
	FrameRun   ClientFrameType = "run"
	FrameInput ClientFrameType = "input"
	FrameStop  ClientFrameType = "stop"
)

// ClientFrame is one inbound frame on the student channel.
type ClientFrame struct {
	Type ClientFrameType `json:"type"`
	RunRequest
	Data string `json:"data,omitempty"`
}
