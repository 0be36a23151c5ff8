package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind categorizes an API failure for retry decisions.
type Kind int

const (
	// KindUnknown is an unclassified failure. Retryable.
	KindUnknown Kind = iota
	// KindNetwork means the remote host was unreachable. Retryable.
	KindNetwork
	// KindTimeout means the request or token fetch timed out. Retryable.
	KindTimeout
	// KindUnauthorized means no valid session. Retryable after re-auth.
	KindUnauthorized
	// KindClientRejected means the server deemed the payload invalid
	// (4xx other than 401/409). Retrying the same payload cannot succeed,
	// but attempts still count so the record terminates in FAILED.
	KindClientRejected
	// KindConflict means the entity already exists server-side (409).
	// The dispatcher treats it as success.
	KindConflict
	// KindServer means a 5xx response. Retryable.
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindUnauthorized:
		return "unauthorized"
	case KindClientRejected:
		return "client_rejected"
	case KindConflict:
		return "conflict"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Error is a classified API failure.
type Error struct {
	Kind       Kind
	StatusCode int // 0 when no HTTP response was received
	Op         string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a future attempt could succeed. Conflict is
// not retryable because it is already treated as success.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindServer, KindUnauthorized, KindUnknown:
		return true
	default:
		return false
	}
}

// IsConflict reports whether err is a classified 409 conflict.
func IsConflict(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == KindConflict
}

// classifyStatus maps an HTTP status code to a Kind.
func classifyStatus(code int) Kind {
	switch {
	case code == 401:
		return KindUnauthorized
	case code == 409:
		return KindConflict
	case code >= 400 && code < 500:
		return KindClientRejected
	case code >= 500:
		return KindServer
	default:
		return KindUnknown
	}
}

// classifyTransport maps a transport-level error to a Kind.
func classifyTransport(err error) Kind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindNetwork
}
