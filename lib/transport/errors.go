package transport

import "errors"

// CodeWriteFailed is the diagnostic code attached to link write failures.
const CodeWriteFailed = "cra-aks-008-04"

var (
	// ErrWriteTimeout is returned when a single packet write exceeds its deadline.
	ErrWriteTimeout = errors.New("transport write timed out")
	// ErrWriteFailed is returned for any other packet write failure.
	ErrWriteFailed = errors.New("transport write failed")
	// ErrClosed is returned by operations on a closed link.
	ErrClosed = errors.New("transport closed")
)
