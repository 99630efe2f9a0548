package auth

import (
	"errors"
	"net/http"
	"strings"
)

// HeaderSubjectID carries the SSO token on OpenTox 1.1 services.
const HeaderSubjectID = "subjectid"

var (
	// ErrMissingToken indicates that neither a subjectid nor an Authorization header was provided.
	ErrMissingToken = errors.New("missing auth token")
	// ErrInvalidPrefix indicates the Authorization header did not use the Bearer prefix.
	ErrInvalidPrefix = errors.New("invalid authorization prefix")
)

// Token is an opaque authentication token issued by an OpenTox SSO service.
type Token string

// IsZero reports whether no token is set.
func (t Token) IsZero() bool {
	return strings.TrimSpace(string(t)) == ""
}

// Apply writes the token to outgoing request headers. Both the legacy subjectid
// header and a Bearer Authorization header are set. An empty token is a no-op.
func (t Token) Apply(h http.Header) {
	if t.IsZero() {
		return
	}
	value := strings.TrimSpace(string(t))
	h.Set(HeaderSubjectID, value)
	h.Set("Authorization", "Bearer "+value)
}

// ExtractToken reads the token forwarded by a caller of the monitor service.
func ExtractToken(r *http.Request) (Token, error) {
	if subject := strings.TrimSpace(r.Header.Get(HeaderSubjectID)); subject != "" {
		return Token(subject), nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrInvalidPrefix
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", ErrMissingToken
	}

	return Token(token), nil
}
