package domain

import "errors"

var (
	ErrValidation       = errors.New("validation failed")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrJobNotFound      = errors.New("job not found")
	ErrJobTerminal      = errors.New("job already in terminal state")
	ErrTemplateNotFound = errors.New("template not found")
	ErrStoreUnavailable = errors.New("backing store unavailable")
	ErrContentRejected  = errors.New("generated content rejected")
	ErrProviderFailure  = errors.New("provider failure")
)
