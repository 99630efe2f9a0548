package training

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opentox/toxotis/pkg/auth"
	"github.com/opentox/toxotis/pkg/opentox"
	"github.com/opentox/toxotis/pkg/task"
	"github.com/opentox/toxotis/pkg/telemetry"
)

// Form fields understood by OpenTox algorithm services.
const (
	FieldDataset           = "dataset_uri"
	FieldPredictionFeature = "prediction_feature"
)

// ErrNilAlgorithm is returned when a trainer is built or updated without an algorithm.
var ErrNilAlgorithm = errors.New("training: algorithm uri is required")

// Client is the remote collaborator a Trainer submits through.
type Client interface {
	opentox.Fetcher
	opentox.Submitter
}

// Parameter is one algorithm parameter, sent as a form field name=value.
type Parameter struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Error reports a submission response that could not be interpreted. Text is
// the literal body that was received.
type Error struct {
	Text string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("training: unexpected response %q: %v", e.Text, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports the training kind; the wrapped URI error makes it a malformed
// response as well.
func (e *Error) Is(target error) bool {
	return target == opentox.ErrTraining
}

// Trainer builds and submits one training invocation of an algorithm service.
type Trainer struct {
	client            Client
	algorithm         opentox.URI
	dataset           opentox.URI
	predictionFeature opentox.URI
	params            []Parameter
}

// New returns a trainer for algorithm. dataset and predictionFeature may be
// empty for algorithms that do not need them.
func New(client Client, algorithm, dataset, predictionFeature opentox.URI, params ...Parameter) (*Trainer, error) {
	t := &Trainer{
		client:            client,
		dataset:           dataset,
		predictionFeature: predictionFeature,
		params:            append([]Parameter(nil), params...),
	}
	if err := t.SetAlgorithm(algorithm); err != nil {
		return nil, err
	}
	return t, nil
}

// SetAlgorithm replaces the algorithm. An empty URI is rejected.
func (t *Trainer) SetAlgorithm(algorithm opentox.URI) error {
	if algorithm.IsZero() {
		return ErrNilAlgorithm
	}
	t.algorithm = algorithm
	return nil
}

func (t *Trainer) Algorithm() opentox.URI         { return t.algorithm }
func (t *Trainer) Dataset() opentox.URI           { return t.dataset }
func (t *Trainer) PredictionFeature() opentox.URI { return t.predictionFeature }

// Parameters returns a copy of the algorithm parameters.
func (t *Trainer) Parameters() []Parameter {
	return append([]Parameter(nil), t.params...)
}

// AddParameter appends one algorithm parameter.
func (t *Trainer) AddParameter(name string, value any) {
	t.params = append(t.params, Parameter{Name: name, Value: value})
}

// Form returns the POST body of a training request.
func (t *Trainer) Form() url.Values {
	form := url.Values{}
	if !t.dataset.IsZero() {
		form.Set(FieldDataset, t.dataset.String())
	}
	if !t.predictionFeature.IsZero() {
		form.Set(FieldPredictionFeature, t.predictionFeature.String())
	}
	for _, p := range t.params {
		if p.Name == "" {
			continue
		}
		form.Add(p.Name, fmt.Sprint(p.Value))
	}
	return form
}

// Train submits the training request with a single POST and interprets the
// immediate response:
//
//   - 202 Accepted: the body locates a task, which is fetched and returned.
//   - 4xx/5xx: the service explains the failure; a task in ERROR state carrying
//     its ErrorReport is returned without a Go error.
//   - any other status: the body is the result itself; a completed task with
//     that result is synthesized without further requests.
//
// When the task locator was received but loading the task failed, Train returns
// the error together with an unloaded task for that locator so the remote job
// is not lost.
//
// Train is not idempotent: every call starts a new remote job.
func (t *Trainer) Train(ctx context.Context, token auth.Token) (*task.Task, error) {
	if t.algorithm.IsZero() {
		return nil, ErrNilAlgorithm
	}

	ctx, span := telemetry.Tracer().Start(ctx, "training.Train",
		trace.WithAttributes(attribute.String("algorithm.uri", t.algorithm.String())))
	defer span.End()

	res, err := t.client.Post(ctx, t.algorithm, t.Form(), opentox.MediaURIList, token)
	if err != nil {
		err = opentox.Communication("submit training to "+t.algorithm.String(), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))

	switch {
	case res.StatusCode == http.StatusAccepted:
		taskURI, err := opentox.FirstURI(res.Text())
		if err != nil {
			return nil, t.fail(span, &Error{Text: res.Text(), Err: err})
		}
		tk, err := task.Load(ctx, t.client, taskURI, token)
		if err != nil {
			// The remote job exists even though it could not be read.
			return task.New(taskURI), t.fail(span, err)
		}
		return tk, nil
	case res.StatusCode >= http.StatusBadRequest:
		tk := task.FromFailure(res)
		span.SetStatus(codes.Error, "remote service rejected training")
		return tk, nil
	default:
		result, err := opentox.FirstURI(res.Text())
		if err != nil {
			return nil, t.fail(span, &Error{Text: res.Text(), Err: err})
		}
		return task.FromResult(res.StatusCode, result), nil
	}
}

func (t *Trainer) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
