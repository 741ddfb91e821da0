package truenas

import "errors"

var (
	// ErrUnsupportedAction is returned before any request is made when an
	// app or system action is outside the allowed set.
	ErrUnsupportedAction = errors.New("truenas: unsupported action")

	// ErrHTTPStatus is the cause wrapped by an APIError for non-2xx replies.
	ErrHTTPStatus = errors.New("truenas: unexpected HTTP status")
)

// APIError is a failed exchange with the management API. Its message is
// meant to be shown to the operator verbatim.
type APIError struct {
	Message    string
	Op         string // list_apps, start, stop, restart, reboot, shutdown
	Target     string // app name, empty for list and system calls
	StatusCode int    // 0 when the request never got a response
	Err        error
}

func (e *APIError) Error() string { return e.Message }

func (e *APIError) Unwrap() error { return e.Err }
