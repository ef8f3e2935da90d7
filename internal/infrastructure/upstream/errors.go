package upstream

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rewards/gateway/internal/relay"
)

var (
	ErrNotFound     = errors.New("upstream: not found")
	ErrUnauthorized = errors.New("upstream: unauthorized")
	ErrRejected     = errors.New("upstream: rejected")
	ErrUnavailable  = errors.New("upstream: unavailable")
	ErrMalformed    = errors.New("upstream: malformed response")
)

// APIError is an upstream failure resolved into one of the sentinels above.
type APIError struct {
	Class  error
	Status int
	Code   string
	Detail string
	Result relay.Result
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%v (status %d): %s", e.Class, e.Status, e.Detail)
}

func (e *APIError) Unwrap() error {
	return e.Class
}

// classify maps a failed relay result onto an error class. This is the one
// place upstream error bodies are interpreted.
func classify(res relay.Result) *APIError {
	apiErr := &APIError{
		Status: res.Status,
		Code:   relay.ErrorCode(res.Data),
		Detail: res.Detail,
		Result: res,
	}

	switch res.Kind {
	case relay.KindTransportFailure, relay.KindTransientEdgeBlock:
		apiErr.Class = ErrUnavailable
		return apiErr
	case relay.KindInvalidRequest, relay.KindInvalidAttachment:
		apiErr.Class = ErrRejected
		return apiErr
	}

	code := strings.ToUpper(apiErr.Code)
	detail := strings.ToLower(apiErr.Detail)

	switch {
	case res.Status == 404 || strings.Contains(code, "NOT_FOUND") || isNotFoundDetail(detail):
		apiErr.Class = ErrNotFound
	case res.Status == 401 || res.Status == 403 || strings.Contains(code, "INVALID_GRANT") || strings.Contains(detail, "invalid_grant"):
		apiErr.Class = ErrUnauthorized
	case res.Status >= 500:
		apiErr.Class = ErrUnavailable
	default:
		apiErr.Class = ErrRejected
	}

	return apiErr
}

func isNotFoundDetail(detail string) bool {
	for _, marker := range []string{"not found", "not registered", "does not exist"} {
		if strings.Contains(detail, marker) {
			return true
		}
	}
	return false
}
