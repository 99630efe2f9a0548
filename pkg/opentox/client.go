package opentox

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/opentox/toxotis/pkg/auth"
)

// Media types understood by OpenTox services.
const (
	MediaURIList = "text/uri-list"
	MediaRDFXML  = "application/rdf+xml"
	MediaText    = "text/plain"
)

// Response is the raw outcome of one exchange with a remote resource.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Text returns the body with surrounding whitespace removed.
func (r *Response) Text() string {
	return strings.TrimSpace(string(r.Body))
}

// Excerpt returns at most 4 KiB of the body for error messages.
func (r *Response) Excerpt() string {
	text := r.Text()
	if len(text) > 4<<10 {
		return text[:4<<10]
	}
	return text
}

// Fetcher retrieves the representation of a remote resource.
type Fetcher interface {
	Get(ctx context.Context, uri URI, accept string, token auth.Token) (*Response, error)
}

// Submitter posts form fields to a remote resource.
type Submitter interface {
	Post(ctx context.Context, uri URI, form url.Values, accept string, token auth.Token) (*Response, error)
}

// Client talks to OpenTox services over HTTP. It is safe for concurrent use.
type Client struct {
	http *resty.Client
}

var (
	_ Fetcher   = (*Client)(nil)
	_ Submitter = (*Client)(nil)
)

// NewClient creates a client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{http: resty.New().SetTimeout(timeout)}
}

// NewClientWithHTTP wraps an existing http.Client, e.g. one from httptest.
func NewClientWithHTTP(hc *http.Client) *Client {
	return &Client{http: resty.NewWithClient(hc)}
}

// Get fetches uri. Non-2xx statuses are not errors; callers inspect StatusCode.
func (c *Client) Get(ctx context.Context, uri URI, accept string, token auth.Token) (*Response, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", accept)
	token.Apply(req.Header)

	res, err := req.Get(uri.String())
	if err != nil {
		return nil, Communication("get "+uri.String(), err)
	}
	return toResponse(res), nil
}

// Post submits form to uri as application/x-www-form-urlencoded.
func (c *Client) Post(ctx context.Context, uri URI, form url.Values, accept string, token auth.Token) (*Response, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", accept).
		SetFormDataFromValues(form)
	token.Apply(req.Header)

	res, err := req.Post(uri.String())
	if err != nil {
		return nil, Communication("post "+uri.String(), err)
	}
	return toResponse(res), nil
}

func toResponse(res *resty.Response) *Response {
	return &Response{
		StatusCode:  res.StatusCode(),
		ContentType: res.Header().Get("Content-Type"),
		Body:        res.Body(),
	}
}
