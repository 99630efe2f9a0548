package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/opentox/toxotis/pkg/auth"
	"github.com/opentox/toxotis/pkg/config"
	"github.com/opentox/toxotis/pkg/opentox"
	"github.com/opentox/toxotis/pkg/registry"
	"github.com/opentox/toxotis/pkg/task"
	"github.com/opentox/toxotis/pkg/taskrunner"
	"github.com/opentox/toxotis/pkg/telemetry"
	"github.com/opentox/toxotis/pkg/training"
)

// errUnsuccessful marks a training that ran to the end without producing a model.
var errUnsuccessful = errors.New("training did not complete")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "toxotis-train: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	algorithm string
	dataset   string
	feature   string
	params    map[string]string
	token     string
	interval  time.Duration
	deadline  time.Duration
	trace     bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("toxotis-train", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.algorithm, "algorithm", "", "algorithm URI or configured alias (required)")
	fs.StringVar(&opts.dataset, "dataset", "", "training dataset URI (required)")
	fs.StringVar(&opts.feature, "feature", "", "prediction feature URI")
	fs.StringToStringVar(&opts.params, "param", nil, "algorithm parameter as name=value; repeatable")
	fs.StringVar(&opts.token, "token", "", "auth token; overrides TOXOTIS_AUTH_TOKEN")
	fs.DurationVar(&opts.interval, "interval", 0, "poll interval; overrides TOXOTIS_POLL_INTERVAL")
	fs.DurationVar(&opts.deadline, "deadline", 0, "give up waiting after this long (0 waits forever)")
	fs.BoolVar(&opts.trace, "trace", false, "print OpenTelemetry spans to stderr")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.algorithm == "" || opts.dataset == "" {
		fs.Usage()
		return options{}, errors.New("--algorithm and --dataset are required")
	}
	return opts, nil
}

type pollingClient struct {
	opentox.Fetcher
	opentox.Submitter
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if opts.token != "" {
		cfg.AuthToken = opts.token
	}
	if opts.interval > 0 {
		cfg.PollInterval = opts.interval
	}

	logger := slog.New(slog.NewTextHandler(stderr, nil))
	if opts.trace {
		// stdout carries only the final task document.
		shutdown := telemetry.InitTracerTo(ctx, "toxotis-train", stderr)
		defer func() { _ = shutdown(context.Background()) }()
	}

	reg, err := registry.FromMap(cfg.Algorithms)
	if err != nil {
		return err
	}
	algorithm, err := reg.Resolve(opts.algorithm)
	if err != nil {
		return err
	}
	dataset, err := opentox.ParseURI(opts.dataset)
	if err != nil {
		return fmt.Errorf("dataset: %w", err)
	}
	var feature opentox.URI
	if opts.feature != "" {
		if feature, err = opentox.ParseURI(opts.feature); err != nil {
			return fmt.Errorf("feature: %w", err)
		}
	}

	remote := opentox.NewClient(cfg.RequestTimeout)
	client := pollingClient{
		Fetcher:   opentox.WithRetry(remote, cfg.MaxRetries, cfg.RetryDelay),
		Submitter: remote,
	}
	trainer, err := training.New(client, algorithm, dataset, feature)
	if err != nil {
		return err
	}
	for _, name := range paramNames(opts.params) {
		trainer.AddParameter(name, opts.params[name])
	}

	if opts.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.deadline)
		defer cancel()
	}

	token := auth.Token(cfg.AuthToken)
	logger.Info("submitting training", "algorithm", algorithm, "dataset", dataset)
	t, err := trainer.Train(ctx, token)
	if err != nil {
		return err
	}

	runner := taskrunner.New(t, client, token, cfg.PollInterval)
	runner.MaxRedirects = cfg.MaxRedirects
	runner.OnPoll = func(t *task.Task) {
		logger.Info("task polled", "task", t.URI, "status", t.Status, "percentage", t.PercentageCompleted)
	}
	final, err := runner.Call(ctx)
	if final != nil {
		if encErr := printTask(stdout, final); encErr != nil {
			return encErr
		}
	}
	if err != nil {
		return err
	}
	if final.Status != task.StatusCompleted {
		return fmt.Errorf("%w: %s", errUnsuccessful, final)
	}
	return nil
}

// paramNames returns the --param names in a stable order.
func paramNames(params map[string]string) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func printTask(w io.Writer, t *task.Task) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}
