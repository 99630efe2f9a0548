package task

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/opentox/toxotis/pkg/opentox"
)

// decode builds a fresh Task for uri from one response. The receiver of a
// Refresh is only overwritten when decode succeeds.
func decode(uri opentox.URI, res *opentox.Response) (*Task, error) {
	next := &Task{URI: uri, HTTPStatus: res.StatusCode}

	var err error
	body := res.Text()
	switch {
	case body == "":
		err = next.applyEmpty()
	case isXML(res.ContentType, body):
		g, perr := parseGraph(res.Body)
		switch {
		case perr == nil:
			err = next.applyGraph(g)
		case failed(res.StatusCode):
			// An unreadable error document still reports a failure.
			err = next.applyText(res)
		default:
			err = perr
		}
	default:
		err = next.applyText(res)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: task %s (http %d): %v", opentox.ErrMalformedResponse, uri, res.StatusCode, err)
	}

	next.normalize()
	return next, nil
}

func isXML(contentType, body string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "xml") {
		return true
	}
	return strings.HasPrefix(body, "<")
}

func failed(code int) bool {
	return code >= http.StatusBadRequest
}

func (t *Task) applyEmpty() error {
	switch {
	case t.HTTPStatus == http.StatusAccepted:
		t.Status = StatusRunning
	case failed(t.HTTPStatus):
		t.Status = StatusError
	default:
		return fmt.Errorf("empty body")
	}
	return nil
}

// applyText handles text/uri-list and plain-text error bodies.
func (t *Task) applyText(res *opentox.Response) error {
	if failed(t.HTTPStatus) {
		t.Status = StatusError
		t.ErrorReport = &ErrorReport{Message: res.Excerpt(), HTTPStatus: t.HTTPStatus}
		return nil
	}

	u, err := opentox.FirstURI(res.Text())
	if err != nil {
		return err
	}
	switch t.HTTPStatus {
	case http.StatusAccepted:
		t.Status = StatusRunning
		if u != t.URI {
			t.ResultURI = u
		}
	case http.StatusCreated:
		t.Status = StatusQueued
		t.ResultURI = u
	default:
		t.Status = StatusCompleted
		t.ResultURI = u
	}
	return nil
}

func (t *Task) applyGraph(g *graph) error {
	subj, ok := t.taskNode(g)
	if !ok {
		if report := g.rootErrorReport(); report != nil {
			t.Status = StatusError
			t.ErrorReport = report
			return nil
		}
		switch {
		case failed(t.HTTPStatus):
			t.Status = StatusError
			return nil
		case t.HTTPStatus == http.StatusOK && !t.URI.IsZero():
			// The resource is not a task: it is the finished result itself.
			t.Status = StatusCompleted
			t.ResultURI = t.URI
			return nil
		}
		return fmt.Errorf("no task in representation")
	}

	if raw := g.text(subj, otHasStatus); raw != "" {
		status, ok := ParseStatus(raw)
		if !ok {
			return fmt.Errorf("unknown task status %q", raw)
		}
		t.Status = status
	} else if status, ok := statusFromCode(t.HTTPStatus); ok {
		t.Status = status
	} else {
		return fmt.Errorf("task status missing")
	}

	pct, ok, err := g.float(subj, otPercentageCompleted)
	if err != nil {
		return err
	}
	if ok {
		t.PercentageCompleted = pct
	}

	if raw := g.text(subj, otResultURI); raw != "" {
		u, err := opentox.ParseURI(raw)
		if err != nil {
			return err
		}
		t.ResultURI = u
	}

	if obj, ok := g.first(subj, otErrorReportProp); ok {
		t.ErrorReport = g.errorReport(obj.String(), 0)
	}

	secs, ok, err := g.float(subj, otDuration)
	if err != nil {
		return err
	}
	if ok {
		t.Duration = time.Duration(secs * float64(time.Second))
	}

	t.Title = g.text(subj, dcTitle)
	t.Creator = g.text(subj, dcCreator)
	return nil
}

// taskNode prefers the node describing t.URI and falls back to the first task.
func (t *Task) taskNode(g *graph) (string, bool) {
	tasks := g.ofType(otTask)
	for _, subj := range tasks {
		if subj == t.URI.String() {
			return subj, true
		}
	}
	if len(tasks) > 0 {
		return tasks[0], true
	}
	return "", false
}

func statusFromCode(code int) (Status, bool) {
	switch {
	case code == http.StatusOK:
		return StatusCompleted, true
	case code == http.StatusCreated:
		return StatusQueued, true
	case code == http.StatusAccepted:
		return StatusRunning, true
	case failed(code):
		return StatusError, true
	}
	return "", false
}

// normalize enforces that a result locator and an error report never coexist.
func (t *Task) normalize() {
	if failed(t.HTTPStatus) && t.Status != StatusCancelled {
		t.Status = StatusError
	}

	switch t.Status {
	case StatusError:
		t.ResultURI = ""
		if t.ErrorReport == nil {
			t.ErrorReport = &ErrorReport{
				Message:    http.StatusText(t.HTTPStatus),
				HTTPStatus: t.HTTPStatus,
			}
		}
	case StatusCompleted:
		t.ErrorReport = nil
		t.PercentageCompleted = 100
	default:
		t.ErrorReport = nil
	}

	switch {
	case t.PercentageCompleted < 0:
		t.PercentageCompleted = 0
	case t.PercentageCompleted > 100:
		t.PercentageCompleted = 100
	}
}
