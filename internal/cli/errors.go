package cli

import (
	"errors"
	"fmt"

	"labflow/internal/acceptance"
)

// Exit codes returned by commands.
const (
	ExitGeneric      = 1
	ExitPrecondition = 2
	ExitNotFound     = 3
	ExitNotWaiting   = 4
)

// ExitError represents a command execution failure with a specific exit code.
//
// This error type allows Cobra RunE functions to signal non-zero exit codes
// without calling os.Exit() directly, enabling testable CLI behavior.
// When a command fails, it returns an ExitError, which propagates up
// to [RunWithConfig] where [IsExitError] extracts the code for [ExecuteResult].
//
// Tests can assert on exit codes without process termination. The [Execute]
// function handles the actual os.Exit() call based on the code.
type ExitError struct {
	// Code is the exit code to return to the shell.
	// Convention: 0 = success, 1 = general error, 2-4 classified failures.
	Code int

	// Err is the failure behind the code, if any.
	Err error
}

// Error implements the error interface, returning a string in the format
// "exit status N" where N is the exit code.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exit status %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying failure.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an [ExitError] with the given exit code.
func NewExitError(code int) *ExitError {
	return &ExitError{Code: code}
}

// IsExitError checks if an error is an [ExitError] and extracts its exit code.
//
// Returns (code, true) if err wraps an *ExitError. Returns (0, false) for
// nil or non-ExitError errors.
//
// Typical usage in [RunWithConfig]:
//
//	if err := cmd.Execute(); err != nil {
//	    if code, ok := IsExitError(err); ok {
//	        return ExecuteResult{ExitCode: code, Err: err}
//	    }
//	    return ExecuteResult{ExitCode: 1, Err: err}  // generic error
//	}
func IsExitError(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}

// ExitCodeFor maps a business-rule failure to its exit code.
func ExitCodeFor(err error) int {
	switch acceptance.KindOf(err) {
	case acceptance.KindPrecondition:
		return ExitPrecondition
	case acceptance.KindNotFound:
		return ExitNotFound
	case acceptance.KindNotWaiting:
		return ExitNotWaiting
	default:
		return ExitGeneric
	}
}

// fail prints err and wraps it in an [ExitError] carrying its exit code.
func (app *App) fail(err error) error {
	app.Printer.Failure("%v", err)
	return &ExitError{Code: ExitCodeFor(err), Err: err}
}
