// Package apperrors holds the error taxonomy shared by the importer packages.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// ErrObjectNotFound is returned by every storage backend when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ErrImportInProgress is returned when a run is requested while another one is active.
var ErrImportInProgress = errors.New("import already in progress")

// ErrPeriodNotElapsed is returned when an import is requested for the current
// or a future month. Such a month would be marked complete while the source is
// still publishing into it.
var ErrPeriodNotElapsed = errors.New("period has not elapsed")

// ConfigurationError reports a missing or invalid setting. It is fatal and is
// raised before any period is touched.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Setting, e.Reason)
}

// FetchFailure reports a network error or a non-success response from the
// remote source. An empty payload is not a FetchFailure.
type FetchFailure struct {
	From       time.Time
	To         time.Time
	StatusCode int
	Err        error
}

func (e *FetchFailure) Error() string {
	window := fmt.Sprintf("%s..%s", e.From.Format("2006-01-02"), e.To.Format("2006-01-02"))
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", window, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", window, e.Err)
}

func (e *FetchFailure) Unwrap() error {
	return e.Err
}

// RowParseError describes a malformed source row. Rows failing with this
// error are skipped and counted, never fatal to the period.
type RowParseError struct {
	Line   int
	Field  string
	Reason string
	Err    error
}

func (e *RowParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("line %d: field %q: %s", e.Line, e.Field, e.Reason)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

func (e *RowParseError) Unwrap() error {
	return e.Err
}

// WriteFailure reports a storage write error. The completion marker is never
// written after one of these.
type WriteFailure struct {
	Key string
	Err error
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("write %s: %v", e.Key, e.Err)
}

func (e *WriteFailure) Unwrap() error {
	return e.Err
}

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// IsFetchFailure reports whether err is (or wraps) a FetchFailure.
func IsFetchFailure(err error) bool {
	var fetchErr *FetchFailure
	return errors.As(err, &fetchErr)
}

// IsWriteFailure reports whether err is (or wraps) a WriteFailure.
func IsWriteFailure(err error) bool {
	var writeErr *WriteFailure
	return errors.As(err, &writeErr)
}
