package catalog

import "github.com/go-faster/errors"

var (
	// ErrNotFound is returned when a device id is not part of the loaded catalog.
	ErrNotFound = errors.New("device not found")
	// ErrAlreadyLoaded guards the one-load-per-process rule.
	ErrAlreadyLoaded = errors.New("catalog already loaded")
)
