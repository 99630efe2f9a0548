package store

import (
	"context"
	"errors"
	"time"

	"github.com/opentox/toxotis/pkg/opentox"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("job not found")

// JobStatus tracks the lifecycle of a monitored training.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	// JobStatusError means the remote task ended in error.
	JobStatusError JobStatus = "ERROR"
	// JobStatusCancelled means the remote task was cancelled or polling stopped.
	JobStatusCancelled JobStatus = "CANCELLED"
	// JobStatusFailed means the job could not be driven: the submission or a
	// poll failed locally.
	JobStatusFailed JobStatus = "FAILED"
)

// Terminal reports whether no further updates are expected.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusError, JobStatusCancelled, JobStatusFailed:
		return true
	}
	return false
}

// Job is the persisted view of one monitored training.
type Job struct {
	ID                string            `json:"id"`
	Algorithm         opentox.URI       `json:"algorithm"`
	Dataset           opentox.URI       `json:"dataset"`
	PredictionFeature opentox.URI       `json:"prediction_feature,omitempty"`
	Parameters        map[string]string `json:"parameters,omitempty"`
	TaskURI           opentox.URI       `json:"task_uri,omitempty"`
	Status            JobStatus         `json:"status"`
	Percentage        float64           `json:"percentage"`
	HTTPStatus        int               `json:"http_status,omitempty"`
	ResultURI         opentox.URI       `json:"result_uri,omitempty"`
	Error             string            `json:"error,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	FinishedAt        *time.Time        `json:"finished_at,omitempty"`
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Parameters != nil {
		c.Parameters = make(map[string]string, len(j.Parameters))
		for k, v := range j.Parameters {
			c.Parameters[k] = v
		}
	}
	if j.FinishedAt != nil {
		at := *j.FinishedAt
		c.FinishedAt = &at
	}
	return &c
}

// JobEvent records one observation of a job, usually one poll of its task.
type JobEvent struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	Status     JobStatus `json:"status"`
	Percentage float64   `json:"percentage"`
	Message    string    `json:"message,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Repository defines the storage operations required by the training monitor.
type Repository interface {
	// CreateJob assigns ID, timestamps and a PENDING status when unset.
	CreateJob(ctx context.Context, job *Job) (*Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	// ListJobs returns jobs newest first.
	ListJobs(ctx context.Context) ([]*Job, error)
	UpdateJob(ctx context.Context, id string, fn func(j *Job) error) (*Job, error)
	AppendEvent(ctx context.Context, event JobEvent) error
	GetEvents(ctx context.Context, jobID string) ([]JobEvent, error)
	Close() error
}

var (
	_ Repository = (*Store)(nil)
	_ Repository = (*PostgresStore)(nil)
)

func prepareJob(job *Job, newID func() string) {
	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = newID()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = JobStatusPending
	}
}

func prepareEvent(event *JobEvent, newID func() string) {
	if event.ID == "" {
		event.ID = newID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
}
