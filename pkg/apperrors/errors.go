package apperrors

import "errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrConflict                = errors.New("conflict")
	ErrCredentialMissing       = errors.New("OpenAI API key is not configured")
	ErrAssistantNotInitialized = errors.New("no assistant created for the project, initialize the AI context first")
	ErrInvalidTransition       = errors.New("invalid status transition")
)
