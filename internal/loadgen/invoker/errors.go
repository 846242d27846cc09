package invoker

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// Error kinds reported by Kind.
const (
	KindTimeout  = "timeout"
	KindNetwork  = "network"
	KindProtocol = "protocol"
)

// TimeoutError reports a call canceled by its deadline or by the caller.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return "timeout: " + e.Op + ": " + e.Err.Error()
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// NetworkError reports a transport failure: refused or reset connections,
// DNS failures, unexpected EOF.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return "network error: " + e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed exchange or a request that could not be
// built.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Op + ": " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// classify maps a transport error to exactly one kind. Timeouts are checked
// first so a deadline that surfaces as a net.OpError is never counted as a
// network error.
func classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return &TimeoutError{Op: op, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Op: op, Err: err}
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr),
		errors.As(err, &opErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return &NetworkError{Op: op, Err: err}
	}

	return &ProtocolError{Op: op, Err: err}
}

// Kind returns the kind of a call error, or "" for nil.
func Kind(err error) string {
	if err == nil {
		return ""
	}

	var timeoutErr *TimeoutError
	var networkErr *NetworkError
	switch {
	case errors.As(err, &timeoutErr):
		return KindTimeout
	case errors.As(err, &networkErr):
		return KindNetwork
	default:
		return KindProtocol
	}
}
