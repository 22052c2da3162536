package core

import (
	"errors"
	"fmt"
)

// Reason classifies why a request was rejected.
type Reason int

const (
	ReasonExcludedHost Reason = iota + 1
	ReasonSelfLoop
	ReasonContentLengthExceeded
	ReasonNonImageContentType
	ReasonRedirectDepthExceeded
	ReasonUnexpectedStatus
	ReasonUpstreamUnreachable
)

func (r Reason) String() string {
	switch r {
	case ReasonExcludedHost:
		return "ExcludedHost"
	case ReasonSelfLoop:
		return "SelfLoop"
	case ReasonContentLengthExceeded:
		return "ContentLengthExceeded"
	case ReasonNonImageContentType:
		return "NonImageContentType"
	case ReasonRedirectDepthExceeded:
		return "RedirectDepthExceeded"
	case ReasonUnexpectedStatus:
		return "UnexpectedStatus"
	case ReasonUpstreamUnreachable:
		return "UpstreamUnreachable"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Rejection is returned when a request is refused. The client always sees
// a 404 with Error() as the body.
type Rejection struct {
	Reason Reason
	// Status is the upstream status code for ReasonUnexpectedStatus.
	Status int
	Detail string
	Err    error
}

// Sentinels for errors.Is; they compare by Reason only.
var (
	ErrExcludedHost          = &Rejection{Reason: ReasonExcludedHost}
	ErrSelfLoop              = &Rejection{Reason: ReasonSelfLoop}
	ErrContentLengthExceeded = &Rejection{Reason: ReasonContentLengthExceeded}
	ErrNonImageContentType   = &Rejection{Reason: ReasonNonImageContentType}
	ErrRedirectDepthExceeded = &Rejection{Reason: ReasonRedirectDepthExceeded}
	ErrUnexpectedStatus      = &Rejection{Reason: ReasonUnexpectedStatus}
	ErrUpstreamUnreachable   = &Rejection{Reason: ReasonUpstreamUnreachable}
)

// ErrStreamLimitExceeded is returned when an upstream body streams more
// bytes than the configured cap after headers were already sent.
var ErrStreamLimitExceeded = errors.New("streamed body exceeded content length limit")

// NewRejection builds a Rejection with a diagnostic detail.
func NewRejection(reason Reason, detail string) *Rejection {
	return &Rejection{Reason: reason, Detail: detail}
}

func (e *Rejection) Error() string {
	var msg string
	switch e.Reason {
	case ReasonExcludedHost:
		msg = "Excluded Host"
	case ReasonSelfLoop:
		msg = "Requesting from self"
	case ReasonContentLengthExceeded:
		msg = "Content-Length Exceeded"
	case ReasonNonImageContentType:
		msg = "Non-Image content-type returned"
	case ReasonRedirectDepthExceeded:
		msg = "Exceeded max depth"
	case ReasonUnexpectedStatus:
		msg = fmt.Sprintf("Respond with: %d", e.Status)
	case ReasonUpstreamUnreachable:
		msg = "Upstream unreachable"
	default:
		msg = "Not Found"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Rejection) Unwrap() error {
	return e.Err
}

// Is matches any Rejection with the same Reason.
func (e *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Reason == e.Reason
}

// AsRejection extracts a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
