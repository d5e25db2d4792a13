package relay

import "errors"

// Error kinds. Concrete failures wrap one of these and are classified with
// errors.Is.
var (
	// ErrAdmission is returned when a connection presents no usable identity.
	ErrAdmission = errors.New("admission refused")
	// ErrInvalidArgument marks a malformed request. No state is mutated.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInternalFault marks an unexpected failure caught at the request boundary.
	ErrInternalFault = errors.New("internal fault")
	// ErrSessionClosed is returned for requests on a session whose disconnect
	// cleanup has already started.
	ErrSessionClosed = errors.New("session closed")
)
