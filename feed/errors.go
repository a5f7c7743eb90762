package feed

import "fmt"

// The feed error taxonomy. None of these are fatal to the manager: connection
// errors degrade live mode to polling, parse and fetch errors are reported to
// error listeners while the previous snapshot is retained.

// ConnError reports a push-channel open or close failure.
type ConnError struct {
	Op  string // "open", "read", "subscribe"
	Err error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("push channel %s: %v", e.Op, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// ParseError reports a malformed push payload. The snapshot is left unchanged.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed payload: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FetchError reports a failed pull or poll request. The previous snapshot is
// retained so the view never blanks out on a transient failure.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("pull %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
