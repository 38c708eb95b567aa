package domain

import "errors"

// ErrInvalidArgument rejects values outside the closed action-type and tier
// sets. Wrapped with context by callers.
var ErrInvalidArgument = errors.New("invalid argument")
