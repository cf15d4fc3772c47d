package models

import "errors"

// Store implementations return these so callers need not know the backend.
var (
	ErrNotFound  = errors.New("document not found")
	ErrDuplicate = errors.New("duplicate key")
)
