package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opentox/toxotis/pkg/auth"
	"github.com/opentox/toxotis/pkg/opentox"
	"github.com/opentox/toxotis/pkg/retry"
	"github.com/opentox/toxotis/pkg/task"
	"github.com/opentox/toxotis/pkg/telemetry"
)

// DefaultMaxRedirects bounds how many 201 hops a single Call follows.
const DefaultMaxRedirects = 10

var (
	// ErrCancelled is returned when the context ends while waiting between polls.
	// The remote job may still be running.
	ErrCancelled = errors.New("task polling cancelled")
	// ErrNoTask is returned by Call when the runner has no task.
	ErrNoTask = errors.New("no task to poll")
)

// Runner polls one task until the service reports a final HTTP status.
//
// Decisions after every refresh:
//
//   - 201 Created: ResultURI names a new task; poll that one instead.
//   - 200 OK: done.
//   - 202 Accepted: wait Interval and refresh the same task.
//   - anything else: done; the caller inspects Status and ErrorReport.
//
// A Runner is not safe for concurrent use. Run many runners for many tasks.
type Runner struct {
	Task     *task.Task
	Fetcher  opentox.Fetcher
	Token    auth.Token
	Interval time.Duration

	// MaxRedirects defaults to DefaultMaxRedirects.
	MaxRedirects int
	// Backoff overrides the wait between polls; defaults to a static Interval.
	Backoff retry.Backoff
	// OnPoll, if set, observes the task after every successful refresh. It runs
	// on the polling goroutine and must not retain t; use t.Clone.
	OnPoll func(t *task.Task)
}

// New returns a runner for t.
func New(t *task.Task, fetcher opentox.Fetcher, token auth.Token, interval time.Duration) *Runner {
	return &Runner{Task: t, Fetcher: fetcher, Token: token, Interval: interval}
}

// Call blocks until the task reaches a final status, a refresh fails, or ctx is
// done while waiting. It returns the task that was being polled last, which is
// not r.Task after a 201 redirect.
//
// A task without a URI was synthesized locally from an immediate response; it
// is not refreshed first but goes straight to the decision step.
func (r *Runner) Call(ctx context.Context) (*task.Task, error) {
	if r.Task == nil {
		return nil, ErrNoTask
	}

	ctx, span := telemetry.Tracer().Start(ctx, "taskrunner.Call",
		trace.WithAttributes(attribute.String("task.uri", r.Task.URI.String())))
	defer span.End()

	current, polls, err := r.run(ctx)
	span.SetAttributes(attribute.Int("task.polls", polls))
	if current != nil {
		span.SetAttributes(
			attribute.String("task.final_uri", current.URI.String()),
			attribute.Int("http.status_code", current.HTTPStatus),
			attribute.String("task.status", string(current.Status)),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return current, err
}

func (r *Runner) run(ctx context.Context) (*task.Task, int, error) {
	current := r.Task
	polls := 0
	wait := r.backoff()
	maxRedirects := r.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}

	refresh := func(t *task.Task) error {
		if err := t.Refresh(ctx, r.Fetcher, r.Token); err != nil {
			return err
		}
		polls++
		if r.OnPoll != nil {
			r.OnPoll(t)
		}
		return nil
	}

	if !current.URI.IsZero() {
		if err := refresh(current); err != nil {
			return current, polls, err
		}
	}

	redirects := 0
	for {
		switch current.HTTPStatus {
		case http.StatusCreated:
			if current.ResultURI.IsZero() {
				return current, polls, fmt.Errorf("%w: task %s answered 201 without a location", opentox.ErrMalformedResponse, current.URI)
			}
			redirects++
			if redirects > maxRedirects {
				return current, polls, fmt.Errorf("%w: more than %d redirects from %s", opentox.ErrMalformedResponse, maxRedirects, r.Task.URI)
			}
			next := task.New(current.ResultURI)
			if err := refresh(next); err != nil {
				return next, polls, err
			}
			current = next
		case http.StatusOK:
			return current, polls, nil
		case http.StatusAccepted:
			if current.URI.IsZero() {
				return current, polls, fmt.Errorf("%w: pending task has no uri to poll", opentox.ErrMalformedResponse)
			}
			if err := wait(ctx); err != nil {
				return current, polls, fmt.Errorf("%w: %w", ErrCancelled, err)
			}
			if err := refresh(current); err != nil {
				return current, polls, err
			}
		default:
			return current, polls, nil
		}
	}
}

func (r *Runner) backoff() retry.Backoff {
	if r.Backoff != nil {
		return r.Backoff
	}
	return retry.StaticBackoff(r.Interval)
}
