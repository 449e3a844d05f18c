package domain

import "errors"

var (
	ErrInvalidEventKind = errors.New("invalid event kind")
	ErrInvalidLevel     = errors.New("invalid event level")
	ErrInvalidChannel   = errors.New("invalid channel")
)
