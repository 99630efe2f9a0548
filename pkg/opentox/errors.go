package opentox

import (
	"errors"
	"fmt"
)

var (
	// ErrCommunication is returned when a remote service could not be reached or
	// the exchange failed at the transport level.
	ErrCommunication = errors.New("communication error")
	// ErrMalformedResponse is returned when a response body cannot be decoded into
	// the expected shape.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrInvalidURI is returned by ParseURI. It is a kind of ErrMalformedResponse.
	ErrInvalidURI = fmt.Errorf("%w: invalid uri", ErrMalformedResponse)
	// ErrTraining is returned when a training submission cannot be interpreted.
	ErrTraining = errors.New("training error")
)

// Communication wraps err as an ErrCommunication unless it already carries one of
// the package's error kinds.
func Communication(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCommunication) || errors.Is(err, ErrMalformedResponse) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrCommunication, op, err)
}
