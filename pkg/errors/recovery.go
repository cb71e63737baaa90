// Panic recovery helpers. Estimator code runs on worker goroutines during a
// grid search; a panic there must come back as an error instead of tearing
// the process down.

package errors

import (
	"fmt"
	"runtime/debug"
)

// PanicError represents an error that was created from a recovered panic.
type PanicError struct {
	// PanicValue is the original value passed to panic()
	PanicValue interface{}

	// StackTrace contains the stack trace at the time of panic
	StackTrace string

	// Operation identifies where the panic was recovered
	Operation string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Operation, e.PanicValue)
}

// String provides detailed information including stack trace.
func (e *PanicError) String() string {
	return fmt.Sprintf("panic in %s: %v\nStack trace:\n%s",
		e.Operation, e.PanicValue, e.StackTrace)
}

// NewPanicError creates a new PanicError with the given operation context and panic value.
func NewPanicError(operation string, panicValue interface{}) *PanicError {
	return &PanicError{
		PanicValue: panicValue,
		StackTrace: string(debug.Stack()),
		Operation:  operation,
	}
}

// Recover converts a panic into an error assigned to *err. Use with defer:
//
//	func (t *Trainer) fit() (err error) {
//	    defer Recover(&err, "Trainer.fit")
//	    ...
//	}
//
// If the function already returned an error, it is wrapped alongside the panic.
func Recover(err *error, operation string) {
	if r := recover(); r != nil {
		if *err != nil {
			*err = fmt.Errorf("panic in %s: %v (original error: %w)",
				operation, r, *err)
			return
		}
		*err = NewPanicError(operation, r)
	}
}

// SafeExecute executes fn and recovers from any panic, converting it to an error.
func SafeExecute(operation string, fn func() error) (err error) {
	defer Recover(&err, operation)
	return fn()
}

// SafeCompute runs a model fit for one hyperparameter point. Panics and
// numerical instability are reported as a ComputationError carrying params;
// every other error is returned unchanged.
func SafeCompute(operation string, params map[string]float64, fn func() error) error {
	err := SafeExecute(operation, fn)
	if err == nil {
		return nil
	}
	var compErr *ComputationError
	if As(err, &compErr) {
		return err
	}
	var panicErr *PanicError
	var numErr *NumericalInstabilityError
	if As(err, &panicErr) || As(err, &numErr) {
		return NewComputationError(operation, params, err)
	}
	return err
}
