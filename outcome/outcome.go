// Package outcome defines the tagged results a scenario or step body can return.
//
// A body returns nil to pass, Bypass(reason) to record a soft failure that does
// not stop sibling steps, Ignore(reason) to stop the remaining steps without
// failing, or any other error to fail. StatusOf maps an error back to its status,
// looking through wrapping and multi-cause aggregates.
package outcome

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/ethereum-optimism/infra/op-scenario/types"
)

// StatusError carries an explicit execution status together with its reason.
type StatusError struct {
	Status types.ExecutionStatus
	Reason string
	Cause  error
}

func (e *StatusError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Status.String()
}

func (e *StatusError) Unwrap() error {
	return e.Cause
}

// Bypass marks the current step as Bypassed. Sibling steps keep running.
func Bypass(reason string) error {
	return &StatusError{Status: types.StatusBypassed, Reason: reason}
}

// Bypassf is Bypass with a format string.
func Bypassf(format string, args ...interface{}) error {
	return Bypass(fmt.Sprintf(format, args...))
}

// Ignore marks the current step as Ignored and stops the remaining steps.
func Ignore(reason string) error {
	return &StatusError{Status: types.StatusIgnored, Reason: reason}
}

// Ignoref is Ignore with a format string.
func Ignoref(format string, args ...interface{}) error {
	return Ignore(fmt.Sprintf(format, args...))
}

// Fail wraps err as an explicit failure. Any untagged error already fails a step,
// Fail only exists so bodies can state the intent.
func Fail(err error) error {
	if err == nil {
		return nil
	}
	return &StatusError{Status: types.StatusFailed, Cause: err}
}

// WithStatus tags err with an already computed status, e.g. the rolled-up status of a step group.
func WithStatus(status types.ExecutionStatus, err error) error {
	if err == nil {
		return nil
	}
	return &StatusError{Status: status, Cause: err}
}

// FromPanic converts a recovered panic value into a failure.
func FromPanic(rec interface{}) error {
	if err, ok := rec.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", rec)
}

// StatusOf classifies err. nil is Passed; aggregates take the most severe cause.
func StatusOf(err error) types.ExecutionStatus {
	if err == nil {
		return types.StatusPassed
	}
	for err != nil {
		switch e := err.(type) {
		case *StatusError:
			return e.Status
		case *multierror.Error:
			return mostSevere(e.Errors)
		case interface{ Unwrap() []error }:
			return mostSevere(e.Unwrap())
		}
		err = errors.Unwrap(err)
	}
	return types.StatusFailed
}

func mostSevere(errs []error) types.ExecutionStatus {
	if len(errs) == 0 {
		return types.StatusFailed
	}
	statuses := make([]types.ExecutionStatus, len(errs))
	for i, err := range errs {
		statuses[i] = StatusOf(err)
	}
	return types.MostSevere(statuses...)
}

// Aggregate combines the non-nil errors into one multi-cause error, preserving order.
// It returns nil when no error is given.
func Aggregate(errs ...error) error {
	var result *multierror.Error
	for _, err := range errs {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result == nil {
		return nil
	}
	result.ErrorFormat = formatCauses
	return result
}

// Causes returns the direct causes of an aggregate, or err itself otherwise.
func Causes(err error) []error {
	if err == nil {
		return nil
	}
	var agg *multierror.Error
	if errors.As(err, &agg) {
		return agg.Errors
	}
	return []error{err}
}

// IsAggregate reports whether err is a multi-cause aggregate.
func IsAggregate(err error) bool {
	var agg *multierror.Error
	return errors.As(err, &agg)
}

func formatCauses(errs []error) string {
	if len(errs) == 1 {
		return errs[0].Error()
	}
	lines := make([]string, len(errs))
	for i, err := range errs {
		lines[i] = err.Error()
	}
	return strings.Join(lines, "\n")
}
