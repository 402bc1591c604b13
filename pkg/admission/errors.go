package admission

import "errors"

var (
	// Policy and registry errors.
	ErrInvalidPolicy  = errors.New("invalid admission policy")
	ErrDuplicateRoute = errors.New("duplicate route policy")
	ErrUnknownRoute   = errors.New("no admission policy registered for route")

	// Store errors.
	ErrKeyRequired      = errors.New("key is required")
	ErrInvalidLimit     = errors.New("invalid limit")
	ErrInvalidInterval  = errors.New("invalid interval")
	ErrStoreUnavailable = errors.New("counter store unavailable")
)
