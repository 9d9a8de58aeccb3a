package ssh

import "fmt"

// TransportError classifies a transport failure.
type TransportError struct {
	// Op is the operation that failed (connect, execute, download).
	Op string

	// Err is the underlying error.
	Err error

	// IsTemporary indicates the operation may succeed on retry.
	IsTemporary bool

	// IsAuthError indicates an authentication or host-key failure.
	IsAuthError bool
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("ssh %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}
