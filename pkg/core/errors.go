package core

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration is returned for configuration that makes a run impossible:
// a negative lookback window, a malformed filter predicate, an unknown dialect.
// It is fatal and always raised before any record is processed.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ErrUnparsableQuery is returned when a statement cannot be decomposed into table references.
// It is expected for a share of real-world log text and never aborts a run.
var ErrUnparsableQuery = errors.New("unparsable query")

// ErrRunNotFound is returned when a run ID is not in the state store.
var ErrRunNotFound = errors.New("run not found")

// InvalidConfigf wraps ErrInvalidConfiguration with a formatted detail message.
func InvalidConfigf(format string, args ...any) error {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// ConfigError carries the detail of an invalid configuration.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Message
}

// Unwrap makes errors.Is(err, ErrInvalidConfiguration) hold.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfiguration
}
