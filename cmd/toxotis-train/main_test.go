package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentox/toxotis/pkg/opentox"
	"github.com/opentox/toxotis/pkg/task"
)

func newRemote(t *testing.T) *httptest.Server {
	var polls atomic.Int32
	var srv *httptest.Server
	r := chi.NewRouter()
	r.Post("/algorithm/mlr", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("subjectid") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, "token required")
			return
		}
		_ = r.ParseForm()
		if r.PostForm.Get("gamma") != "2" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, "gamma missing")
			return
		}
		w.Header().Set("Content-Type", opentox.MediaURIList)
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintf(w, "%s/task/9\n", srv.URL)
	})
	r.Get("/task/9", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", opentox.MediaURIList)
		if polls.Add(1) < 3 {
			w.WriteHeader(http.StatusAccepted)
			fmt.Fprintf(w, "%s/task/9\n", srv.URL)
			return
		}
		fmt.Fprintf(w, "%s/model/9\n", srv.URL)
	})
	srv = httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunTrainsAndPrintsTask(t *testing.T) {
	srv := newRemote(t)
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), []string{
		"--algorithm", srv.URL + "/algorithm/mlr",
		"--dataset", srv.URL + "/dataset/1",
		"--param", "gamma=2",
		"--token", "secret",
		"--interval", "1ms",
	}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())

	var got task.Task
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &got))
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, opentox.URI(srv.URL+"/model/9"), got.ResultURI)
	assert.Contains(t, stderr.String(), "task polled")
}

func TestRunReportsRemoteFailure(t *testing.T) {
	srv := newRemote(t)
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), []string{
		"--algorithm", srv.URL + "/algorithm/mlr",
		"--dataset", srv.URL + "/dataset/1",
		"--interval", "1ms",
	}, &stdout, &stderr)
	require.ErrorIs(t, err, errUnsuccessful)

	var got task.Task
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &got))
	assert.Equal(t, task.StatusError, got.Status)
	assert.Equal(t, http.StatusForbidden, got.HTTPStatus)
}

func TestRunRequiresAlgorithmAndDataset(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"--algorithm", "http://x/algorithm/mlr"}, &stdout, &stderr)
	assert.Error(t, err)
	assert.Empty(t, stdout.String())

	err = run(context.Background(), []string{"--algorithm", "mlr", "--dataset", "http://x/dataset/1"}, &stdout, &stderr)
	assert.Error(t, err, "unknown alias")
}

func TestRunTraceKeepsStdoutForTask(t *testing.T) {
	srv := newRemote(t)
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), []string{
		"--algorithm", srv.URL + "/algorithm/mlr",
		"--dataset", srv.URL + "/dataset/1",
		"--param", "gamma=2",
		"--token", "secret",
		"--interval", "1ms",
		"--trace",
	}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())

	var got task.Task
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &got), "stdout must hold only the task document")
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Contains(t, stderr.String(), "training.Train")
	assert.NotContains(t, stdout.String(), "SpanContext")
}

func TestParamNamesSorted(t *testing.T) {
	params := map[string]string{"gamma": "2", "alpha": "1", "beta": "0.5", "delta": "x"}
	for i := 0; i < 10; i++ {
		assert.Equal(t, []string{"alpha", "beta", "delta", "gamma"}, paramNames(params))
	}
	assert.Empty(t, paramNames(nil))
}
