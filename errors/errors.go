package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions callers branch on with errors.Is.
var (
	// Event decoding and validation.
	ErrMalformedEvent   = errors.New("malformed blob event")
	ErrMissingObjectKey = errors.New("missing object key")
	ErrMissingContainer = errors.New("missing container name")
	ErrParsingFailed    = errors.New("parsing failed")

	// Object store lookups.
	ErrBucketNotFound = errors.New("bucket not found")
	ErrObjectMissing  = errors.New("object missing from store")

	// Audit store writes. The unique index over an event identity surfaces
	// the losing side of a redelivery race as ErrDuplicateRecord.
	ErrDuplicateRecord = errors.New("duplicate audit record")

	// Configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ClassifiedError carries an ErrorClass alongside the wrapped error so the
// ack/nak boundary can branch with errors.As instead of matching strings.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Component string
	Operation string
}

func (e *ClassifiedError) Error() string {
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Wrap gives an error call-site context in the form
// "component.method: action failed: <err>". A nil err stays nil.
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient marks err as retryable. The dispatcher requeues deliveries
// whose handler returned a transient error.
func WrapTransient(err error, component, method, action string) error {
	return classified(ClassTransient, err, component, method, action)
}

// WrapInvalid marks err as terminally bad input. Deliveries that fail invalid
// are recorded and acked, never redelivered.
func WrapInvalid(err error, component, method, action string) error {
	return classified(ClassInvalid, err, component, method, action)
}

// WrapFatal marks err as unrecoverable. The runtime shuts the service down
// instead of retrying.
func WrapFatal(err error, component, method, action string) error {
	return classified(ClassFatal, err, component, method, action)
}

func classified(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Err:       Wrap(err, component, method, action),
		Component: component,
		Operation: method,
	}
}
