package accessor

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Error kinds returned by Accessor operations. Match them with errors.Is.
var (
	ErrNotLoaded      = errors.New("no archive loaded")
	ErrIO             = errors.New("archive read failed")
	ErrNotFound       = errors.New("entry not found")
	ErrRedirectLoop   = errors.New("redirect chain exceeds hop limit")
	ErrMalformedPath  = errors.New("malformed path")
	ErrNoMainPage     = errors.New("archive has no main page")
	ErrEmptyNamespace = errors.New("namespace has no entries")
)

// ioError classifies an engine failure as ErrIO while keeping the cause.
func ioError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrIO, err)
}

// guard converts a panic escaping an engine call into ErrIO. It must be
// deferred directly.
func guard(op string, logger zerolog.Logger, err *error) {
	if r := recover(); r != nil {
		logger.Warn().Str("op", op).Interface("panic", r).Msg("recovered archive engine panic")
		*err = fmt.Errorf("%s: %w: panic: %v", op, ErrIO, r)
	}
}
