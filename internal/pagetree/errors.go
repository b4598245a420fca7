package pagetree

import "errors"

var (
	ErrNotFound     = errors.New("page not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("target already exists")
	ErrInternal     = errors.New("page tree operation failed")
	ErrClosed       = errors.New("page tree is closed")
)
