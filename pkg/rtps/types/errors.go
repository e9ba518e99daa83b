package types

import "errors"

var (
	ErrClosed               = errors.New("entity closed")
	ErrDuplicateEntity      = errors.New("entity id already registered")
	ErrUnknownEntity        = errors.New("unknown entity")
	ErrInvalidConfiguration = errors.New("invalid configuration")
)
