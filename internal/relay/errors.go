package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAttachment is returned for file parts that fail local validation.
	// Such payloads are never sent upstream.
	ErrInvalidAttachment = errors.New("invalid attachment")
	ErrInvalidRequest    = errors.New("invalid relay request")
)

// ErrorKind classifies a failed Result.
type ErrorKind string

const (
	KindInvalidAttachment  ErrorKind = "invalid_attachment"
	KindInvalidRequest     ErrorKind = "invalid_request"
	KindUpstreamRejected   ErrorKind = "upstream_rejected"
	KindTransientEdgeBlock ErrorKind = "transient_edge_block"
	KindTransportFailure   ErrorKind = "transport_failure"
)

// Error is the Go error view of a failed Result.
type Error struct {
	Kind   ErrorKind
	Status int
	Detail string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	switch e.Kind {
	case KindInvalidAttachment:
		return ErrInvalidAttachment
	case KindInvalidRequest:
		return ErrInvalidRequest
	}
	return nil
}
