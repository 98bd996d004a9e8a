package reset

import (
	"errors"
	"fmt"

	"db_respawn/internal/db"
)

// Sentinel errors. Every typed error below matches one of them with
// errors.Is.
var (
	// ErrConfiguration is returned when the options cannot work together,
	// before any I/O happens.
	ErrConfiguration = errors.New("respawn: invalid configuration")

	// ErrNoTablesFound is returned when nothing is left to reset after
	// filtering. It usually means a filter or a migration is wrong.
	ErrNoTablesFound = errors.New("respawn: no tables found")

	// ErrUnsupportedCapability is returned when reseed or temporal table
	// handling is requested from a dialect that has neither.
	ErrUnsupportedCapability = errors.New("respawn: capability not supported by dialect")

	// ErrExecution is returned when a generated statement fails.
	ErrExecution = errors.New("respawn: execution failed")
)

// ConfigurationError reports options that cannot be used.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "respawn: invalid configuration: " + e.Reason
}

// Is reports whether the target error matches ErrConfiguration.
func (e *ConfigurationError) Is(err error) bool {
	return err == ErrConfiguration
}

// NoTablesFoundError reports an empty table set.
type NoTablesFoundError struct {
	Provider string
	Filter   db.Filter
}

func (e *NoTablesFoundError) Error() string {
	return fmt.Sprintf("respawn: no tables found for %s; check the table and schema filters", e.Provider)
}

// Is reports whether the target error matches ErrNoTablesFound.
func (e *NoTablesFoundError) Is(err error) bool {
	return err == ErrNoTablesFound
}

// UnsupportedCapabilityError names the capability the dialect lacks.
type UnsupportedCapabilityError struct {
	Provider   string
	Capability string
}

func (e *UnsupportedCapabilityError) Error() string {
	return fmt.Sprintf("respawn: %s is not supported by %s", e.Capability, e.Provider)
}

// Is reports whether the target error matches ErrUnsupportedCapability.
func (e *UnsupportedCapabilityError) Is(err error) bool {
	return err == ErrUnsupportedCapability
}

func (e *UnsupportedCapabilityError) Unwrap() error {
	return db.ErrUnsupported
}

// Stage names a step of a reset.
type Stage string

const (
	StageVersioningOff Stage = "versioning_off"
	StageDelete        Stage = "delete"
	StageReseed        Stage = "reseed"
	StageVersioningOn  Stage = "versioning_on"
)

// ExecutionError wraps a driver error with the stage and statement that
// produced it. Statement is empty when beginning or committing the
// transaction failed.
type ExecutionError struct {
	Stage     Stage
	Statement string
	Err       error
}

func (e *ExecutionError) Error() string {
	if e.Statement == "" {
		return fmt.Sprintf("respawn: %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("respawn: %s: %q: %v", e.Stage, e.Statement, e.Err)
}

// Is reports whether the target error matches ErrExecution.
func (e *ExecutionError) Is(err error) bool {
	return err == ErrExecution
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsExecutionError returns the ExecutionError in err's chain, if any.
func IsExecutionError(err error) (*ExecutionError, bool) {
	var e *ExecutionError
	ok := errors.As(err, &e)
	return e, ok
}
