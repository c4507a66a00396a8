package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ConnectError is a connection failure that maps to a specific State.
type ConnectError struct {
	State State
	Err   error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return e.State.String()
	}
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Errorf builds a ConnectError for state with a formatted cause.
func Errorf(state State, format string, args ...any) error {
	return &ConnectError{State: state, Err: fmt.Errorf(format, args...)}
}

// Classify maps a connection error to the state it should leave the
// destination in.
func Classify(err error) State {
	if err == nil {
		return Connected
	}

	var se *ConnectError
	if errors.As(err, &se) {
		return se.State
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout || dnsErr.IsTemporary {
			return NetworkUnavailable
		}
		return UnknownHost
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return NoServer
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) {
		return NetworkUnavailable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NetworkUnavailable
	}

	return Error
}
