package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opentox/toxotis/pkg/auth"
	"github.com/opentox/toxotis/pkg/opentox"
	"github.com/opentox/toxotis/pkg/registry"
	"github.com/opentox/toxotis/pkg/store"
	"github.com/opentox/toxotis/pkg/task"
	"github.com/opentox/toxotis/pkg/taskrunner"
	"github.com/opentox/toxotis/pkg/training"
)

var (
	// ErrInvalidRequest is returned by Submit for requests that cannot be turned
	// into a training.
	ErrInvalidRequest = errors.New("invalid training request")
	// ErrClosed is returned once Shutdown has been called.
	ErrClosed = errors.New("monitor is shut down")
)

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Snapshots caches the latest task of each job for readers outside this process.
type Snapshots interface {
	Put(ctx context.Context, jobID string, t *task.Task) error
	Get(ctx context.Context, jobID string) (*task.Task, error)
}

type Options struct {
	Client   training.Client
	Store    store.Repository
	Registry *registry.Registry
	// Snapshots is optional.
	Snapshots Snapshots
	Logger    Logger

	PollInterval time.Duration
	MaxRedirects int
	// MaxRetries and RetryDelay apply to task polls only; training POSTs are
	// never repeated.
	MaxRetries int
	RetryDelay time.Duration
	// Token is used for requests that do not carry their own.
	Token auth.Token
}

// TrainingRequest is what callers submit to the monitor.
type TrainingRequest struct {
	// Algorithm is a registry alias or an absolute algorithm URI.
	Algorithm         string            `json:"algorithm"`
	Dataset           string            `json:"dataset"`
	PredictionFeature string            `json:"prediction_feature,omitempty"`
	Parameters        map[string]string `json:"parameters,omitempty"`
}

// Service runs trainings in the background: one goroutine per job submits the
// training, polls its task to completion and records progress.
type Service struct {
	client    training.Client
	store     store.Repository
	registry  *registry.Registry
	snapshots Snapshots
	logger    Logger

	interval     time.Duration
	maxRedirects int
	token        auth.Token

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

type pollingClient struct {
	opentox.Fetcher
	opentox.Submitter
}

func New(opts Options) (*Service, error) {
	if opts.Client == nil {
		return nil, errors.New("monitor: client is required")
	}
	if opts.Store == nil {
		return nil, errors.New("monitor: store is required")
	}
	if opts.PollInterval <= 0 {
		return nil, fmt.Errorf("monitor: poll interval must be positive, got %s", opts.PollInterval)
	}
	if opts.Registry == nil {
		opts.Registry = registry.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		client: pollingClient{
			Fetcher:   opentox.WithRetry(opts.Client, opts.MaxRetries, opts.RetryDelay),
			Submitter: opts.Client,
		},
		store:        opts.Store,
		registry:     opts.Registry,
		snapshots:    opts.Snapshots,
		logger:       opts.Logger,
		interval:     opts.PollInterval,
		maxRedirects: opts.MaxRedirects,
		token:        opts.Token,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Registry returns the algorithm aliases known to the service.
func (s *Service) Registry() *registry.Registry { return s.registry }

// Submit records a job for req and starts it in the background. The returned
// job is PENDING; progress is observable through the store.
func (s *Service) Submit(ctx context.Context, req TrainingRequest, token auth.Token) (*store.Job, error) {
	trainer, job, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	if !s.begin() {
		return nil, ErrClosed
	}
	job, err = s.store.CreateJob(ctx, job)
	if err != nil {
		s.wg.Done()
		return nil, fmt.Errorf("create job: %w", err)
	}
	if token.IsZero() {
		token = s.token
	}

	s.logger.Info("training submitted", "jobID", job.ID, "algorithm", job.Algorithm, "dataset", job.Dataset)
	go s.run(job.ID, trainer, token)
	return job, nil
}

func (s *Service) prepare(req TrainingRequest) (*training.Trainer, *store.Job, error) {
	algorithm, err := s.registry.Resolve(req.Algorithm)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: algorithm: %w", ErrInvalidRequest, err)
	}
	dataset, err := opentox.ParseURI(req.Dataset)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dataset: %w", ErrInvalidRequest, err)
	}
	var feature opentox.URI
	if strings.TrimSpace(req.PredictionFeature) != "" {
		if feature, err = opentox.ParseURI(req.PredictionFeature); err != nil {
			return nil, nil, fmt.Errorf("%w: prediction_feature: %w", ErrInvalidRequest, err)
		}
	}

	names := make([]string, 0, len(req.Parameters))
	for name := range req.Parameters {
		if strings.TrimSpace(name) == "" {
			return nil, nil, fmt.Errorf("%w: empty parameter name", ErrInvalidRequest)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	params := make([]training.Parameter, 0, len(names))
	for _, name := range names {
		params = append(params, training.Parameter{Name: name, Value: req.Parameters[name]})
	}

	trainer, err := training.New(s.client, algorithm, dataset, feature, params...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	job := &store.Job{
		Algorithm:         trainer.Algorithm(),
		Dataset:           trainer.Dataset(),
		PredictionFeature: trainer.PredictionFeature(),
		Parameters:        req.Parameters,
	}
	return trainer, job, nil
}

// Resume restarts polling for jobs left unfinished by a previous process. Jobs
// whose submission never produced a task cannot be recovered and are marked
// FAILED. It returns the number of jobs resumed.
func (s *Service) Resume(ctx context.Context) (int, error) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, job := range jobs {
		if job.Status.Terminal() {
			continue
		}
		if job.TaskURI.IsZero() {
			s.finish(job.ID, store.JobStatusFailed, "submission interrupted before a task was created", nil)
			continue
		}
		if !s.begin() {
			return resumed, ErrClosed
		}
		s.logger.Info("resuming training", "jobID", job.ID, "task", job.TaskURI)
		go s.poll(job.ID, task.New(job.TaskURI), s.token)
		resumed++
	}
	return resumed, nil
}

// Wait blocks until every running job has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown stops polling and waits for the job goroutines to record their last
// state. Remote jobs keep running; Resume picks them up again.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// begin registers a job goroutine unless the service is shut down.
func (s *Service) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Service) run(jobID string, trainer *training.Trainer, token auth.Token) {
	defer s.wg.Done()

	// On a load failure t still locates the remote task.
	t, err := trainer.Train(s.ctx, token)
	switch {
	case err != nil && s.ctx.Err() != nil:
		s.logger.Info("training submission interrupted", "jobID", jobID, "error", err)
		s.record(jobID, t, "stopped before the task was loaded")
		return
	case err != nil:
		s.logger.Error("training submission failed", "jobID", jobID, "error", err)
		s.finish(jobID, store.JobStatusFailed, err.Error(), t)
		return
	}
	s.observe(jobID, t)
	s.drive(jobID, t, token)
}

func (s *Service) poll(jobID string, t *task.Task, token auth.Token) {
	defer s.wg.Done()
	s.drive(jobID, t, token)
}

func (s *Service) drive(jobID string, t *task.Task, token auth.Token) {
	runner := taskrunner.New(t, s.client, token, s.interval)
	runner.MaxRedirects = s.maxRedirects
	runner.OnPoll = func(t *task.Task) { s.observe(jobID, t) }

	final, err := runner.Call(s.ctx)
	switch {
	case errors.Is(err, taskrunner.ErrCancelled), err != nil && s.ctx.Err() != nil:
		s.logger.Info("training polling stopped", "jobID", jobID, "task", final.URI)
		s.record(jobID, final, "polling stopped before the task finished")
		return
	case err != nil:
		s.logger.Error("training polling failed", "jobID", jobID, "error", err)
		s.finish(jobID, store.JobStatusFailed, err.Error(), final)
		return
	}

	status := jobStatus(final.Status)
	if !status.Terminal() {
		s.finish(jobID, store.JobStatusFailed,
			fmt.Sprintf("task %s stopped at %s with http %d", final.URI, final.Status, final.HTTPStatus), final)
		return
	}
	msg := ""
	if final.ErrorReport != nil {
		msg = final.ErrorReport.Error()
	}
	s.logger.Info("training finished", "jobID", jobID, "status", status, "result", final.ResultURI)
	s.finish(jobID, status, msg, final)
}

// storeCtx outlives Shutdown so the last state of a job is still recorded.
func (s *Service) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(s.ctx), 10*time.Second)
}

// observe records one poll of a job's task.
func (s *Service) observe(jobID string, t *task.Task) {
	snapshot := t.Clone()
	ctx, cancel := s.storeCtx()
	defer cancel()

	status := jobStatus(snapshot.Status)
	if status.Terminal() {
		// finish records terminal states once the runner has returned.
		status = store.JobStatusRunning
	}
	_, err := s.store.UpdateJob(ctx, jobID, func(j *store.Job) error {
		applyTask(j, snapshot)
		j.Status = status
		return nil
	})
	if err != nil {
		s.logger.Error("record task poll", "jobID", jobID, "error", err)
		return
	}
	s.event(ctx, jobID, jobStatus(snapshot.Status), snapshot.PercentageCompleted, pollMessage(snapshot))
	s.cache(ctx, jobID, snapshot)
}

// record stores the task without changing the job's lifecycle status.
func (s *Service) record(jobID string, t *task.Task, msg string) {
	ctx, cancel := s.storeCtx()
	defer cancel()
	job, err := s.store.UpdateJob(ctx, jobID, func(j *store.Job) error {
		if t != nil {
			applyTask(j, t)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("record job", "jobID", jobID, "error", err)
		return
	}
	s.event(ctx, jobID, job.Status, job.Percentage, msg)
}

func (s *Service) finish(jobID string, status store.JobStatus, msg string, t *task.Task) {
	ctx, cancel := s.storeCtx()
	defer cancel()
	now := time.Now().UTC()
	job, err := s.store.UpdateJob(ctx, jobID, func(j *store.Job) error {
		if t != nil {
			applyTask(j, t)
		}
		j.Status = status
		j.Error = msg
		j.FinishedAt = &now
		return nil
	})
	if err != nil {
		s.logger.Error("finish job", "jobID", jobID, "error", err)
		return
	}
	if msg == "" {
		msg = fmt.Sprintf("Job %s", strings.ToLower(string(status)))
	}
	s.event(ctx, jobID, status, job.Percentage, msg)
	if t != nil {
		s.cache(ctx, jobID, t.Clone())
	}
}

func (s *Service) event(ctx context.Context, jobID string, status store.JobStatus, pct float64, msg string) {
	err := s.store.AppendEvent(ctx, store.JobEvent{JobID: jobID, Status: status, Percentage: pct, Message: msg})
	if err != nil {
		s.logger.Error("append job event", "jobID", jobID, "error", err)
	}
}

func (s *Service) cache(ctx context.Context, jobID string, t *task.Task) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.Put(ctx, jobID, t); err != nil {
		s.logger.Error("cache task snapshot", "jobID", jobID, "error", err)
	}
}

func applyTask(j *store.Job, t *task.Task) {
	if !t.URI.IsZero() {
		j.TaskURI = t.URI
	}
	j.Percentage = t.PercentageCompleted
	j.HTTPStatus = t.HTTPStatus
	j.ResultURI = t.ResultURI
}

func jobStatus(s task.Status) store.JobStatus {
	switch s {
	case task.StatusRunning:
		return store.JobStatusRunning
	case task.StatusCompleted:
		return store.JobStatusCompleted
	case task.StatusError:
		return store.JobStatusError
	case task.StatusCancelled:
		return store.JobStatusCancelled
	default:
		return store.JobStatusPending
	}
}

func pollMessage(t *task.Task) string {
	msg := fmt.Sprintf("%s %s (http %d)", t.URI, t.Status, t.HTTPStatus)
	if t.URI.IsZero() {
		msg = fmt.Sprintf("immediate result %s (http %d)", t.ResultURI, t.HTTPStatus)
	}
	if t.ErrorReport != nil {
		msg += ": " + t.ErrorReport.Error()
	}
	return msg
}
