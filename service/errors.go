package service

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is returned for any non-2xx API response.
type APIError struct {
	StatusCode int
	Status     string
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Body == "" {
		return fmt.Sprintf("API %s returned %s", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("API %s returned %s: %s", e.Endpoint, e.Status, e.Body)
}

// Kind classifies API failures the way the reservation flow reacts to them.
type Kind int

const (
	KindNone Kind = iota
	KindGeneric
	KindAuthExpired
	KindConflict
	KindGone
	KindServerError
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAuthExpired:
		return "auth-expired"
	case KindConflict:
		return "conflict"
	case KindGone:
		return "gone"
	case KindServerError:
		return "server-error"
	case KindNotFound:
		return "not-found"
	default:
		return "generic"
	}
}

// KindFromStatus maps an HTTP status code onto a Kind.
func KindFromStatus(code int) Kind {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuthExpired
	case http.StatusConflict:
		return KindConflict
	case http.StatusGone:
		return KindGone
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusInternalServerError:
		return KindServerError
	default:
		return KindGeneric
	}
}

// KindOf reports the Kind of err. Errors that did not come from an API
// response (network failures, decode errors) are KindGeneric.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return KindFromStatus(apiErr.StatusCode)
	}
	return KindGeneric
}

// StatusOf returns the HTTP status carried by err, or 0 when there is none.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

func IsGone(err error) bool {
	return KindOf(err) == KindGone
}

func IsAuthExpired(err error) bool {
	return KindOf(err) == KindAuthExpired
}
