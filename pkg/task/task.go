package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opentox/toxotis/pkg/auth"
	"github.com/opentox/toxotis/pkg/opentox"
	"github.com/opentox/toxotis/pkg/telemetry"
)

// ErrNoURI is returned when refreshing a locally synthesized task.
var ErrNoURI = errors.New("task has no uri")

// Accept is sent when fetching a task representation.
const Accept = opentox.MediaRDFXML + ", " + opentox.MediaURIList + ";q=0.5"

// Load fetches the task at uri.
func Load(ctx context.Context, fetcher opentox.Fetcher, uri opentox.URI, token auth.Token) (*Task, error) {
	t := New(uri)
	if err := t.Refresh(ctx, fetcher, token); err != nil {
		return nil, err
	}
	return t, nil
}

// Refresh fetches the current representation of the task and overwrites the
// in-memory state. It performs exactly one request. On failure the task is left
// unchanged.
func (t *Task) Refresh(ctx context.Context, fetcher opentox.Fetcher, token auth.Token) error {
	if t.URI.IsZero() {
		return ErrNoURI
	}

	ctx, span := telemetry.Tracer().Start(ctx, "task.Refresh",
		trace.WithAttributes(attribute.String("task.uri", t.URI.String())))
	defer span.End()

	res, err := fetcher.Get(ctx, t.URI, Accept, token)
	if err != nil {
		err = opentox.Communication("refresh task "+t.URI.String(), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return err
	}

	next, err := decode(t.URI, res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return err
	}
	next.UpdatedAt = time.Now().UTC()
	*t = *next

	span.SetAttributes(
		attribute.Int("http.status_code", t.HTTPStatus),
		attribute.String("task.status", string(t.Status)),
		attribute.Float64("task.percentage", t.PercentageCompleted),
	)
	return nil
}

// FromFailure synthesizes a terminal task for a submission the remote service
// rejected. The service's explanation becomes the task's ErrorReport.
func FromFailure(res *opentox.Response) *Task {
	t, err := decode("", res)
	if err != nil || t.Status != StatusError {
		t = &Task{
			Status:      StatusError,
			HTTPStatus:  res.StatusCode,
			ErrorReport: &ErrorReport{Message: res.Excerpt(), HTTPStatus: res.StatusCode},
		}
	}
	t.UpdatedAt = time.Now().UTC()
	return t
}

// FromResult synthesizes a finished task for a service that answered a
// submission immediately instead of creating a job.
func FromResult(code int, result opentox.URI) *Task {
	return &Task{
		Status:              StatusCompleted,
		PercentageCompleted: 100,
		HTTPStatus:          code,
		ResultURI:           result,
		UpdatedAt:           time.Now().UTC(),
	}
}

func (t *Task) String() string {
	switch t.Status {
	case StatusCompleted:
		return fmt.Sprintf("task %s completed -> %s", t.URI, t.ResultURI)
	case StatusError:
		return fmt.Sprintf("task %s failed: %v", t.URI, t.ErrorReport)
	}
	return fmt.Sprintf("task %s %s (%.0f%%, http %d)", t.URI, t.Status, t.PercentageCompleted, t.HTTPStatus)
}
