package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

var (
	// ErrAuthFailed credentials invalid, expired or un-refreshable. Needs user re-auth.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNetworkUnreachable transient connection problem, retried next batch
	ErrNetworkUnreachable = errors.New("network unreachable")

	// ErrTimeout provider did not answer in time, retried next batch
	ErrTimeout = errors.New("provider timeout")

	// ErrParse a single message could not be decoded
	ErrParse = errors.New("failed to parse message")

	// ErrUnsupportedProvider no fetcher is registered for the account kind
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// Classify maps a raw provider error onto the error taxonomy.
// Errors that already carry a taxonomy sentinel are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrAuthFailed, ErrNetworkUnreachable, ErrTimeout, ErrParse, ErrUnsupportedProvider} {
		if errors.Is(err, known) {
			return err
		}
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
			return fmt.Errorf("%w: %w", ErrNetworkUnreachable, err)
		}
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrAuthFailed, err)
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", ErrNetworkUnreachable, err)
		}
		if apiErr.Code >= 500 {
			return fmt.Errorf("%w: %w", ErrNetworkUnreachable, err)
		}
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code == http.StatusUnauthorized || statusErr.Code == http.StatusForbidden {
			return fmt.Errorf("%w: %w", ErrAuthFailed, err)
		}
		if statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500 {
			return fmt.Errorf("%w: %w", ErrNetworkUnreachable, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrNetworkUnreachable, err)
	}

	return err
}

// Kind returns a short label for err, used in logs and metrics
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNetworkUnreachable):
		return "network"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrUnsupportedProvider):
		return "unsupported"
	default:
		return "other"
	}
}

// StatusError is a non-2xx answer from a REST provider
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.Code, e.Body)
}
