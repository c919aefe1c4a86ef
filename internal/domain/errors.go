package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrDataError     = errors.New("malformed market data")
	ErrRunAborted    = errors.New("run aborted")
	ErrUnknownSource = errors.New("unknown decision source")
	ErrLockHeld      = errors.New("lock already held")
)
