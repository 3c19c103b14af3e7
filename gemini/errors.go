package gemini

import (
	"errors"
	"fmt"
)

// Kind classifies a failed generation call at the gateway boundary, so
// callers never have to match on message text.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNoImage: the call succeeded but no image came back (empty
	// candidates, safety block, missing inline data).
	KindNoImage
	// KindInvalidConfig: the request could not be built (no prompt and
	// no photos).
	KindInvalidConfig
	// KindOverloaded: HTTP 503, the service is temporarily unavailable.
	KindOverloaded
	// KindTimeout: the request or response deadline expired.
	KindTimeout
	// KindServerError: other 5xx responses.
	KindServerError
	// KindConnectivity: the request never reached the service.
	KindConnectivity
	// KindBadResponse: a 2xx response that could not be decoded.
	KindBadResponse
	// KindPermanent: 4xx responses and other failures a retry cannot fix.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindNoImage:
		return "no_image"
	case KindInvalidConfig:
		return "invalid_config"
	case KindOverloaded:
		return "overloaded"
	case KindTimeout:
		return "timeout"
	case KindServerError:
		return "server_error"
	case KindConnectivity:
		return "connectivity"
	case KindBadResponse:
		return "bad_response"
	case KindPermanent:
		return "permanent"
	}
	return "unknown"
}

// APIError is the normalized failure of one gateway call.
type APIError struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gemini %s (http %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini %s: %s", e.Kind, e.Message)
}

// retryable reports whether another attempt can help.
func (e *APIError) retryable() bool {
	switch e.Kind {
	case KindOverloaded, KindTimeout, KindServerError, KindConnectivity:
		return true
	}
	return false
}

// KindOf extracts the error kind, KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

// IsNoImage reports the soft per-call failure that skips one iteration
// of a batch instead of aborting it.
func IsNoImage(err error) bool {
	return KindOf(err) == KindNoImage
}
