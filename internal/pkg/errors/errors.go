package errors

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalid           = errors.New("invalid")
	ErrConflict          = errors.New("conflict")
	ErrUnsupported       = errors.New("unsupported")
	ErrConfiguration     = errors.New("configuration")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrMissingAudio      = errors.New("missing audio")
	ErrExtraction        = errors.New("extraction failed")
	ErrCorruptSnapshot   = errors.New("corrupt snapshot")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsDimensionMismatch(err error) bool {
	return errors.Is(err, ErrDimensionMismatch)
}
