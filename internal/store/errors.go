package store

import "errors"

var (
	ErrJobNotFound       = errors.New("render job not found")
	ErrAlreadyRendering  = errors.New("render already in progress")
	ErrAlreadyCompleted  = errors.New("render already completed")
	ErrInvalidTransition = errors.New("invalid render status transition")
)
