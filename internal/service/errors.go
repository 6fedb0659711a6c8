package service

import "errors"

var (
	ErrArchiveTooLarge = errors.New("project archive too large")
	ErrInvalidState    = errors.New("invalid render list state")
	ErrDuplicateOrder  = errors.New("duplicate stem order")
	ErrNotCompleted    = errors.New("render not completed")
	ErrNothingToExport = errors.New("no stem files available for export")
)
