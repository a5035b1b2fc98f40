package txdict

import (
	"errors"
	"fmt"
)

// Error is a failure raised by a dictionary operation or a flush.
//
// Flush-level errors carry the dictionary, encoded key and intent index that
// triggered them. Underlying causes (store errors, mapping rule errors) are
// available through errors.Is/As via Unwrap.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Dictionary names the affected dictionary, if any.
	Dictionary string

	// Key is the encoded key of the affected record, if any.
	Key string

	// Index is the position of the failing intent in the flushed batch,
	// or -1 when the error is not tied to an intent.
	Index int

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes errors.
type ErrorCode string

const (
	// ErrCodeConflict indicates Add on an existing key.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeNotFound indicates Update or Remove on a missing key, or Get of
	// a missing key.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeKeyMismatch indicates a value whose built-in key differs from
	// the key it was queued under.
	ErrCodeKeyMismatch ErrorCode = "KEY_MISMATCH"

	// ErrCodeMapping indicates a mapping rule failed.
	ErrCodeMapping ErrorCode = "MAPPING"

	// ErrCodeInvalid indicates a malformed intent or registration.
	ErrCodeInvalid ErrorCode = "INVALID"

	// ErrCodeSessionClosed indicates use of a closed session or view.
	ErrCodeSessionClosed ErrorCode = "SESSION_CLOSED"

	// ErrCodeRolledBack indicates use of a session whose flush failed.
	ErrCodeRolledBack ErrorCode = "ROLLED_BACK"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Dictionary != "" && e.Key != "" && e.Index >= 0:
		msg = fmt.Sprintf("%s (dict=%s, key=%s, intent=%d)", msg, e.Dictionary, e.Key, e.Index)
	case e.Dictionary != "" && e.Key != "":
		msg = fmt.Sprintf("%s (dict=%s, key=%s)", msg, e.Dictionary, e.Key)
	case e.Dictionary != "":
		msg = fmt.Sprintf("%s (dict=%s)", msg, e.Dictionary)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, dict, key string, format string, args ...any) *Error {
	return &Error{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		Dictionary: dict,
		Key:        key,
		Index:      -1,
	}
}

// atIndex stamps the intent index on err if it is an *Error without one.
func atIndex(err error, index int) error {
	var e *Error
	if errors.As(err, &e) && e.Index < 0 {
		e.Index = index
	}
	return err
}

// mappingError wraps a mapping rule failure, leaving errors that already
// carry a code untouched.
func mappingError(dict, key string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	me := newError(ErrCodeMapping, dict, key, "mapping rule failed")
	me.Err = err
	return me
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConflict returns true if the error is a key conflict.
// Uses errors.As to handle wrapped errors.
func IsConflict(err error) bool {
	return CodeOf(err) == ErrCodeConflict
}

// IsNotFound returns true if the error reports a missing key.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsMappingError returns true if a mapping rule failed.
func IsMappingError(err error) bool {
	return CodeOf(err) == ErrCodeMapping
}

// IsSessionClosed returns true if the error reports use of a finished
// session, whether closed or rolled back.
func IsSessionClosed(err error) bool {
	code := CodeOf(err)
	return code == ErrCodeSessionClosed || code == ErrCodeRolledBack
}
