package session

import (
	"errors"
	"fmt"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrNoDataChannel = errors.New("data channel not open")
	ErrBadSignal     = errors.New("malformed signal")
)

// SessionError carries the failed operation and, when relevant, the remote
// peer it concerned.
type SessionError struct {
	Op   string
	Peer string
	Err  error
}

func (e *SessionError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func newError(op string, err error) *SessionError {
	return &SessionError{Op: op, Err: err}
}

func newPeerError(op, peer string, err error) *SessionError {
	return &SessionError{Op: op, Peer: peer, Err: err}
}
