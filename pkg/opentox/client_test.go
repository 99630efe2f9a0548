package opentox_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentox/toxotis/pkg/auth"
	"github.com/opentox/toxotis/pkg/opentox"
)

func TestParseURI(t *testing.T) {
	u, err := opentox.ParseURI("  http://x/task/42 ")
	require.NoError(t, err)
	assert.Equal(t, opentox.URI("http://x/task/42"), u)
	assert.Equal(t, "42", u.ID())

	for _, raw := range []string{"", "not a uri", "ftp://x/y", "http://", "/task/42"} {
		_, err := opentox.ParseURI(raw)
		assert.ErrorIs(t, err, opentox.ErrInvalidURI, raw)
		assert.ErrorIs(t, err, opentox.ErrMalformedResponse, raw)
		assert.NotErrorIs(t, err, opentox.ErrCommunication, raw)
	}
}

func TestParseURIList(t *testing.T) {
	uris, err := opentox.ParseURIList("# comment\nhttp://x/model/1\n\nhttp://x/model/2\n")
	require.NoError(t, err)
	assert.Equal(t, []opentox.URI{"http://x/model/1", "http://x/model/2"}, uris)

	first, err := opentox.FirstURI("http://x/model/1\nhttp://x/model/2")
	require.NoError(t, err)
	assert.Equal(t, opentox.URI("http://x/model/1"), first)

	_, err = opentox.FirstURI("\n# nothing\n")
	assert.ErrorIs(t, err, opentox.ErrInvalidURI)
}

func TestClientGetAndPost(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/task/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, opentox.MediaRDFXML, r.Header.Get("Accept"))
		assert.Equal(t, "tok", r.Header.Get(auth.HeaderSubjectID))
		w.Header().Set("Content-Type", opentox.MediaURIList)
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "http://x/task/"+chi.URLParam(r, "id")+"\n")
	})
	r.Post("/algorithm/mlr", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "http://x/dataset/1", r.PostForm.Get("dataset_uri"))
		assert.Empty(t, r.Header.Get(auth.HeaderSubjectID))
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "http://x/model/7")
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	client := opentox.NewClientWithHTTP(srv.Client())

	res, err := client.Get(context.Background(), opentox.URI(srv.URL+"/task/42"), opentox.MediaRDFXML, "tok")
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.Equal(t, "http://x/task/42", res.Text())
	assert.Equal(t, opentox.MediaURIList, res.ContentType)

	form := url.Values{"dataset_uri": {"http://x/dataset/1"}}
	res, err = client.Post(context.Background(), opentox.URI(srv.URL+"/algorithm/mlr"), form, opentox.MediaURIList, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "http://x/model/7", res.Text())
}

func TestClientCommunicationError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := opentox.URI(srv.URL + "/task/1")
	srv.Close()

	client := opentox.NewClient(0)
	_, err := client.Get(context.Background(), target, opentox.MediaRDFXML, "")
	assert.ErrorIs(t, err, opentox.ErrCommunication)
	assert.NotErrorIs(t, err, opentox.ErrMalformedResponse)
}

type flakyFetcher struct {
	calls int
	fails int
	err   error
}

func (f *flakyFetcher) Get(ctx context.Context, uri opentox.URI, accept string, token auth.Token) (*opentox.Response, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, f.err
	}
	return &opentox.Response{StatusCode: http.StatusOK, Body: []byte(uri)}, nil
}

func TestWithRetry(t *testing.T) {
	flaky := &flakyFetcher{fails: 2, err: opentox.Communication("get", errors.New("reset"))}
	res, err := opentox.WithRetry(flaky, 3, 0).Get(context.Background(), "http://x/task/1", opentox.MediaRDFXML, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 3, flaky.calls)

	malformed := &flakyFetcher{fails: 5, err: opentox.ErrMalformedResponse}
	_, err = opentox.WithRetry(malformed, 3, 0).Get(context.Background(), "http://x/task/1", opentox.MediaRDFXML, "")
	assert.ErrorIs(t, err, opentox.ErrMalformedResponse)
	assert.Equal(t, 1, malformed.calls)
}
