package errors

import (
	"context"
	"errors"
	"strings"
)

// ErrorClass partitions failures by how the pipeline reacts: requeue the
// delivery, record it and move on, or stop the service.
type ErrorClass int

const (
	ClassTransient ErrorClass = iota
	ClassInvalid
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassInvalid:
		return "invalid"
	case ClassFatal:
		return "fatal"
	}
	return "unknown"
}

// invalidSentinels are the validation failures produced while decoding and
// checking blob events.
var invalidSentinels = []error{
	ErrMalformedEvent,
	ErrMissingObjectKey,
	ErrMissingContainer,
	ErrParsingFailed,
}

// transientPatterns matches infrastructure noise in errors that arrive
// unclassified, typically from drivers and broker client internals.
var transientPatterns = []string{
	"timeout",
	"connection",
	"network",
	"temporary",
	"unavailable",
	"busy",
	"locked",
	"retry",
}

// fatalPatterns matches conditions no redelivery can fix.
var fatalPatterns = []string{
	"fatal",
	"panic",
	"corrupted",
	"invalid config",
	"missing config",
	"out of memory",
	"disk full",
}

// IsTransient reports whether err should be retried. Classified errors
// answer directly; unclassified ones fall back to known sentinels and
// message patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassTransient
	}
	// A duplicate insert is a resolved race, never a reason to retry.
	if errors.Is(err, ErrDuplicateRecord) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return matchesAny(err, transientPatterns)
}

// IsInvalid reports whether err means the input can never succeed.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassInvalid
	}
	for _, sentinel := range invalidSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// IsFatal reports whether err should stop the service.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassFatal
	}
	if errors.Is(err, ErrInvalidConfig) {
		return true
	}
	return matchesAny(err, fatalPatterns)
}

// IsDuplicate reports whether the error is the audit store rejecting a
// second Processed row for the same event identity. Callers treat this
// as "already processed", not as a failure.
func IsDuplicate(err error) bool {
	return err != nil && errors.Is(err, ErrDuplicateRecord)
}

// IsObjectMissing reports whether the error is the object store failing to
// find an object. The file was deleted between event and processing; callers
// record a Skipped audit instead of retrying.
func IsObjectMissing(err error) bool {
	return err != nil && errors.Is(err, ErrObjectMissing)
}

// Classify buckets err for metric labels and logging. Unknown errors
// classify transient so a redelivery gets the benefit of the doubt.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassTransient
	}
	switch {
	case IsTransient(err):
		return ClassTransient
	case IsFatal(err):
		return ClassFatal
	case IsInvalid(err):
		return ClassInvalid
	}
	return ClassTransient
}

func matchesAny(err error, patterns []string) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range patterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
