package intake

import "github.com/go-faster/errors"

// validationError communicates rule violations back to HTTP handlers.
type validationError struct {
	message string
}

func (e validationError) Error() string { return e.message }

func newValidationError(msg string) error {
	return validationError{message: msg}
}

// IsValidation helps callers distinguish rejected input from infrastructure failures.
func IsValidation(err error) bool {
	var v validationError
	return errors.As(err, &v)
}
