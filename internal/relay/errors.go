package relay

import (
	"errors"
	"fmt"
	"net/http"
)

// Client-facing messages.
const (
	msgMissingURL      = `Missing "url" query param`
	msgInvalidURL      = "Invalid Airtable URL"
	msgViewIDNotFound  = "Could not locate view id in share link"
	msgShareFailed     = "Failed to process share link"
	msgFetchFailed     = "Failed to fetch Airtable CSV"
	msgRedirectBlocked = "redirect target is not an accepted Airtable URL"
)

// ErrRedirectRejected is returned when an upstream redirects to a URL outside the grammar.
var ErrRedirectRejected = errors.New("relay: " + msgRedirectBlocked)

// ValidationError reports a URL that failed validation. Nothing was fetched.
type ValidationError struct {
	Raw     string
	Message string
}

func (e *ValidationError) Error() string { return "relay: " + e.Message }

// ResolutionError reports a share page that held no view id.
type ResolutionError struct {
	ShareURL string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("relay: %s: %s", msgViewIDNotFound, e.ShareURL)
}

// UpstreamError reports a failed or non-2xx upstream call. Status is the
// upstream status for passthrough, or 0 when no response was received.
type UpstreamError struct {
	URL     string
	Status  int
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("relay: upstream %s returned %d", e.URL, e.Status)
	}
	return fmt.Sprintf("relay: %s: %v", e.Message, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// StatusCode maps a relay error to the HTTP status the relay answers with.
func StatusCode(err error) int {
	var (
		ve *ValidationError
		re *ResolutionError
		ue *UpstreamError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &re):
		return http.StatusBadRequest
	case errors.As(err, &ue) && ue.Status != 0:
		return ue.Status
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing message for a relay error.
func Message(err error) string {
	var (
		ve *ValidationError
		re *ResolutionError
		ue *UpstreamError
	)
	switch {
	case errors.As(err, &ve):
		return ve.Message
	case errors.As(err, &re):
		return msgViewIDNotFound
	case errors.As(err, &ue) && ue.Message != "":
		return ue.Message
	default:
		return msgFetchFailed
	}
}
