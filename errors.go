package gattcentral

import (
	"errors"
	"fmt"
)

// ErrorCode is the platform-neutral error taxonomy shared by every operation
// and completion in this package. A nil error stands for NoError; every other
// code is returned (possibly wrapped) as an error value.
type ErrorCode int

const (
	NoError ErrorCode = iota
	Failed
	InvalidState
	InvalidArgument
	ItemNotFound
	NotImplemented
	BluetoothBusy
)

var errorCodeNames = [...]string{
	NoError:         "no error",
	Failed:          "failed",
	InvalidState:    "invalid state",
	InvalidArgument: "invalid argument",
	ItemNotFound:    "item not found",
	NotImplemented:  "not implemented",
	BluetoothBusy:   "bluetooth busy",
}

// Error implements the error interface.
func (e ErrorCode) Error() string {
	if e >= 0 && int(e) < len(errorCodeNames) {
		return "gattcentral: " + errorCodeNames[e]
	}
	return fmt.Sprintf("gattcentral: error code %d", int(e))
}

// Code returns the ErrorCode carried by err. A nil error maps to NoError and
// an error that carries no code (for example a raw native error) maps to
// Failed.
func Code(err error) ErrorCode {
	if err == nil {
		return NoError
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code
	}
	return Failed
}

// wrapError attaches a code to a native error so callers can match it with
// errors.Is while the native detail stays in the message.
func wrapError(code ErrorCode, err error) error {
	if err == nil {
		return nil
	}
	var existing ErrorCode
	if errors.As(err, &existing) {
		return err
	}
	return fmt.Errorf("%w: %v", code, err)
}

// errorf creates an error with the given code and an explanatory message.
func errorf(code ErrorCode, format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{code}, args...)...)
}

// recoverNative converts a panic raised inside a native binding into a Failed
// error. It must be deferred directly by the adapter method.
func recoverNative(err *error) {
	if r := recover(); r != nil {
		*err = errorf(Failed, "native call panicked: %v", r)
	}
}
