package opentox

import (
	"bufio"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// URI identifies an OpenTox resource: a dataset, feature, algorithm, model or task.
type URI string

// ParseURI validates raw as an absolute http(s) URI.
func ParseURI(raw string) (URI, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURI)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidURI, trimmed, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: %q: unsupported scheme", ErrInvalidURI, trimmed)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: %q: missing host", ErrInvalidURI, trimmed)
	}
	return URI(u.String()), nil
}

// ParseURIList decodes a text/uri-list body. Blank lines and # comments are skipped.
func ParseURIList(body string) ([]URI, error) {
	var uris []URI
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		u, err := ParseURI(line)
		if err != nil {
			return nil, err
		}
		uris = append(uris, u)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return uris, nil
}

// FirstURI returns the first entry of a text/uri-list body.
func FirstURI(body string) (URI, error) {
	uris, err := ParseURIList(body)
	if err != nil {
		return "", err
	}
	if len(uris) == 0 {
		return "", fmt.Errorf("%w: no uri in body", ErrInvalidURI)
	}
	return uris[0], nil
}

func (u URI) String() string {
	return string(u)
}

// IsZero reports whether the URI is unset.
func (u URI) IsZero() bool {
	return strings.TrimSpace(string(u)) == ""
}

// ID returns the last path segment, e.g. "42" for http://host/task/42.
func (u URI) ID() string {
	parsed, err := url.Parse(string(u))
	if err != nil {
		return ""
	}
	base := path.Base(strings.TrimSuffix(parsed.Path, "/"))
	if base == "." || base == "/" {
		return ""
	}
	return base
}
