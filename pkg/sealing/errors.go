package sealing

import "errors"

var (
	// ErrInvalidKey indicates key material is missing or not 32 bytes.
	ErrInvalidKey = errors.New("invalid sealing key")
	// ErrMalformed indicates a sealed payload is truncated or has an unknown version.
	ErrMalformed = errors.New("malformed sealed payload")
	// ErrOpen indicates authentication failed while opening a sealed payload.
	ErrOpen = errors.New("sealed payload authentication failed")
)
