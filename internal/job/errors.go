package job

import "errors"

var (
	// State transition errors
	ErrAlreadyTerminal        = errors.New("job already in a terminal state")
	ErrAlreadyProcessing      = errors.New("job already processing")
	ErrInvalidStateTransition = errors.New("invalid job state transition")
	ErrNotProcessing          = errors.New("job is not processing")
	ErrAttemptsExhausted      = errors.New("all urls already attempted")

	// Validation errors
	ErrNoURLs           = errors.New("job must contain at least one url")
	ErrEmptyArchivePath = errors.New("archive path cannot be empty")
	ErrEmptyArchiveURL  = errors.New("archive url cannot be empty")
)
