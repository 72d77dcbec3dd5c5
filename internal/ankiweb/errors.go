package ankiweb

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredentials is returned before any network call when the
	// client has no username or password.
	ErrMissingCredentials = errors.New("ankiweb credentials are missing")

	// ErrLoginFailed categorizes failures during the hostKey exchange.
	ErrLoginFailed = errors.New("ankiweb login failed")

	// ErrDownloadFailed categorizes failures after login, including an
	// empty server collection.
	ErrDownloadFailed = errors.New("ankiweb download failed")
)

// ProtocolError reports a non-success response from a sync endpoint after
// redirect handling.
type ProtocolError struct {
	Method     string
	StatusCode int
	Body       string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("sync request to %s failed (%d): %s", e.Method, e.StatusCode, e.Body)
}
