package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidSample = errors.New("invalid sample")
	ErrUnknownStore  = errors.New("no adapter registered for store")
)
