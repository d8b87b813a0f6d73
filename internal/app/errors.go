package app

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUsernameExists    = errors.New("username already exists")
	ErrEmailExists       = errors.New("email already exists")
	ErrInvalidCredential = errors.New("invalid username or password")

	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentNotReady = errors.New("document has no usable text yet")
	ErrUnsupportedFile  = errors.New("unsupported file type")
	ErrSessionNotFound  = errors.New("qa session not found")
	ErrAnswerGeneration = errors.New("answer generation failed")
)
