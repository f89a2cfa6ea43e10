package validation

import "errors"

var (
	ErrInvalidFileType   = errors.New("invalid audio file type")
	ErrFileTooLarge      = errors.New("file size exceeds upload limit")
	ErrMissingFilename   = errors.New("filename is required")
	ErrMissingDigest     = errors.New("file hash is required")
	ErrInvalidSize       = errors.New("file size must be positive")
	ErrExtensionMismatch = errors.New("file extension does not match content")
)
