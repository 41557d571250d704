package mailbox

import (
	"errors"
	"fmt"
)

// ConnectError indicates the server could not be reached or the
// connection broke. It is fatal to a sync run.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect error (%s): %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// AuthError indicates the server rejected the account's credentials. It is
// fatal to a sync run; flagging the account invalid is left to the caller.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProtocolError indicates the server refused a mailbox-level command such
// as SELECT or SEARCH.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error (%s): %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// FetchError indicates a single message could not be retrieved. When
// Broken is set the session itself is no longer usable.
type FetchError struct {
	UID    uint32
	Broken bool
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch error (uid %d): %v", e.UID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsConnectError reports whether err (or any error in its chain) is a
// ConnectError.
func IsConnectError(err error) bool {
	var ce *ConnectError
	return errors.As(err, &ce)
}

// IsAuthError reports whether err (or any error in its chain) is an
// AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsProtocolError reports whether err (or any error in its chain) is a
// ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsBrokenSession reports whether err means the session can no longer be
// used: a connection failure, or a fetch failure caused by one.
func IsBrokenSession(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Broken
	}
	return IsConnectError(err)
}
