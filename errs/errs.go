// Package errs declares the pipeline's error taxonomy as concrete Go error
// types: small structs implementing error, carrying the fields a caller
// needs to react without parsing a message string.
package errs

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ConfigError is raised when the mapping registry document cannot be
// parsed.
type ConfigError struct {
	Path  string
	Cause error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: failed to load %q: %v", e.Path, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// UnknownExchangeError is raised when a caller requests an exchange id the
// registry has no declaration for, and the id is not one of the reserved
// ids ("ml", "unknown", "auto").
type UnknownExchangeError struct {
	ExchangeID string
	Known      []string
}

func (e *UnknownExchangeError) Error() string {
	return fmt.Sprintf("unknown exchange %q (known: %v)", e.ExchangeID, e.Known)
}

// InvalidFormatError is raised by detector/normalizer file reads that
// cannot be interpreted as tabular data.
type InvalidFormatError struct {
	File   string
	Reason string
	Cause  error
}

func (e *InvalidFormatError) Error() string {
	return fmt.Sprintf("invalid format in %q: %s", e.File, e.Reason)
}

func (e *InvalidFormatError) Unwrap() error { return e.Cause }

// EmptyDataError is raised when the normalizer is given a file with no
// rows.
type EmptyDataError struct {
	File string
}

func (e *EmptyDataError) Error() string {
	return fmt.Sprintf("no data in %q", e.File)
}

// MappingInsufficientError is raised when, after the declarative mapping
// and the classifier pass, a required canonical field is still unresolved.
type MappingInsufficientError struct {
	File    string
	Missing []string
}

func (e *MappingInsufficientError) Error() string {
	return fmt.Sprintf("mapping insufficient for %q: missing %v", e.File, e.Missing)
}

// ValidationFailureError is raised in strict mode when the Validator's
// report contains fatal errors.
type ValidationFailureError struct {
	Errors int
}

func (e *ValidationFailureError) Error() string {
	return fmt.Sprintf("validation failed with %d error(s)", e.Errors)
}

// InsufficientInventoryError is raised in strict mode when a disposal
// requests more of an asset than the inventory holds.
type InsufficientInventoryError struct {
	Asset     string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for %s: requested %s, available %s", e.Asset, e.Requested, e.Available)
}

// InvariantViolationError is raised only under Inventory.DebugInvariants,
// signaling a logic defect rather than bad input data.
type InvariantViolationError struct {
	Asset  string
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violated for %s: %s", e.Asset, e.Detail)
}

// OracleUnavailableError records a per-record price-oracle miss. It is
// never returned to a caller of the engine; it is only ever collected.
type OracleUnavailableError struct {
	Asset     string
	Timestamp string
}

func (e *OracleUnavailableError) Error() string {
	return fmt.Sprintf("no price available for %s at %s", e.Asset, e.Timestamp)
}

// IOError wraps an underlying filesystem error from a normalizer read. The
// report writer returns its filesystem errors unwrapped.
type IOError struct {
	Op    string
	Path  string
	Cause error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Cause)
}

func (e *IOError) Unwrap() error { return e.Cause }
