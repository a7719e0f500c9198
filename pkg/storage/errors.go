package storage

import "errors"

var (
	ErrNotFound            = errors.New("blob not found")
	ErrEmptyKey            = errors.New("storage key must not be empty")
	ErrInvalidKey          = errors.New("storage key must be a relative slash-separated path")
	ErrUnsupportedProvider = errors.New("unsupported storage provider")
)
