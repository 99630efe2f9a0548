package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/opentox/toxotis/pkg/opentox"
)

// Status represents the lifecycle state of a remote task.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusError     Status = "ERROR"
	StatusCancelled Status = "CANCELLED"
)

// ParseStatus accepts the literals used by OpenTox services ("Running",
// "Completed", ...) in any case, with or without an ontology namespace.
func ParseStatus(raw string) (Status, bool) {
	value := strings.TrimSpace(raw)
	if idx := strings.LastIndexAny(value, "#/"); idx >= 0 {
		value = value[idx+1:]
	}
	switch strings.ToUpper(value) {
	case "QUEUED":
		return StatusQueued, true
	case "RUNNING":
		return StatusRunning, true
	case "COMPLETED":
		return StatusCompleted, true
	case "ERROR":
		return StatusError, true
	case "CANCELLED", "CANCELED":
		return StatusCancelled, true
	}
	return "", false
}

// Terminal reports whether no further polling can change the outcome.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// Task is the client-side handle of an asynchronous job on an OpenTox service.
//
// A Task is owned by a single goroutine; Refresh mutates it in place.
type Task struct {
	URI                 opentox.URI  `json:"uri,omitempty"`
	Status              Status       `json:"status"`
	PercentageCompleted float64      `json:"percentage_completed"`
	HTTPStatus          int          `json:"http_status"`
	ResultURI           opentox.URI  `json:"result_uri,omitempty"`
	ErrorReport         *ErrorReport `json:"error_report,omitempty"`
	Title               string       `json:"title,omitempty"`
	Creator             string       `json:"creator,omitempty"`
	// Duration is the service's estimate of the remaining run time.
	Duration  time.Duration `json:"duration,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// New returns an unpopulated handle for the task at uri.
func New(uri opentox.URI) *Task {
	return &Task{URI: uri, Status: StatusQueued}
}

// Clone returns a deep copy, safe to hand to other goroutines.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.ErrorReport = t.ErrorReport.Clone()
	return &c
}

// ErrorReport is the error payload an OpenTox service attaches to a failed task
// or response (ot:ErrorReport).
type ErrorReport struct {
	URI        string       `json:"uri,omitempty"`
	Actor      string       `json:"actor,omitempty"`
	Code       string       `json:"code,omitempty"`
	Message    string       `json:"message,omitempty"`
	Details    string       `json:"details,omitempty"`
	HTTPStatus int          `json:"http_status,omitempty"`
	Cause      *ErrorReport `json:"cause,omitempty"`
}

func (e *ErrorReport) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "remote error"
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if e.HTTPStatus != 0 {
		msg = fmt.Sprintf("%s (http %d)", msg, e.HTTPStatus)
	}
	if e.Actor != "" {
		msg = fmt.Sprintf("%s [actor %s]", msg, e.Actor)
	}
	return msg
}

// Unwrap exposes the cause reported by an upstream service, if any.
func (e *ErrorReport) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Clone returns a deep copy of the report chain.
func (e *ErrorReport) Clone() *ErrorReport {
	if e == nil {
		return nil
	}
	c := *e
	c.Cause = e.Cause.Clone()
	return &c
}
