// Package model holds the types of the faculty monitor channel.
package model

import (
	"time"

	appErr "livecode/pkg/errors"
)

// Student status values.
const (
	StatusNotStarted = "not-started"
	StatusInProgress = "in-progress"
	StatusSubmitted  = "submitted"
)

// CohortFilter selects the students a test is assigned to.
type CohortFilter struct {
	StartYear int    `json:"startYear"`
	Branch    string `json:"branch"`
	Section   string `json:"section"`
}

// StudentRow is a cohort member left-joined with its per-test status row.
// Status fields are nil when the student has no status row yet.
type StudentRow struct {
	StudentID string
	GivenName string
	Surname   string
	Email     string
	PIN       string

	Status       *string
	Progress     *float64
	StartTime    *time.Time
	EndTime      *time.Time
	Duration     *int64
	Errors       *int
	WPM          *float64
	Similarity   *float64
	LastActiveAt *time.Time
}

// StudentProgressSnapshot is a point-in-time view of one student's progress.
// It is rebuilt wholesale on every synchronization.
type StudentProgressSnapshot struct {
	StudentID    string     `json:"studentId"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PIN          string     `json:"pin"`
	Status       string     `json:"status"`
	Progress     float64    `json:"progress"`
	StartTime    *time.Time `json:"startTime,omitempty"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	Duration     int64      `json:"duration"`
	Errors       int        `json:"errors"`
	WPM          float64    `json:"wpm"`
	Similarity   float64    `json:"similarity"`
	LastActiveAt *time.Time `json:"lastActiveAt,omitempty"`
	Score        float64    `json:"score"`
}

// Frame types of the faculty channel.
const (
	FrameJoin     = "join"
	FrameLeave    = "leave"
	FrameSnapshot = "snapshot"
	FrameError    = "error"
)

// ObserverFrame is an inbound faculty frame.
type ObserverFrame struct {
	Type   string `json:"type"`
	TestID string `json:"testId"`
}

// Envelope is an outbound faculty frame.
type Envelope struct {
	Type     string                    `json:"type"`
	TestID   string                    `json:"testId"`
	Students []StudentProgressSnapshot `json:"students"`
	Code     int                       `json:"code,omitempty"`
	Message  string                    `json:"message,omitempty"`
}

// SnapshotEnvelope wraps a snapshot set for one test.
func SnapshotEnvelope(testID string, students []StudentProgressSnapshot) Envelope {
	if students == nil {
		students = []StudentProgressSnapshot{}
	}
	return Envelope{Type: FrameSnapshot, TestID: testID, Students: students}
}

// BroadcastMessage is the Kafka body asking every instance to refresh a room.
type BroadcastMessage struct {
	TestID string `json:"testId"`
}

// ErrorEnvelope reports err on the faculty channel for testID.
func ErrorEnvelope(testID string, err error) Envelope {
	e := appErr.GetError(err)
	return Envelope{Type: FrameError, TestID: testID, Code: int(e.Code), Message: e.Describe()}
}
