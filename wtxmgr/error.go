package wtxmgr

import "fmt"

// ErrorCode identifies a category of error.
type ErrorCode uint8

// These constants are used to identify a specific Error.
const (
	// ErrDatabase indicates an error with the underlying database.  When
	// this error code is set, the Err field of the Error will be set to
	// the underlying error returned from the database.
	ErrDatabase ErrorCode = iota

	// ErrData describes an error where data stored in the transaction
	// database is incorrect.  This may be due to missing values, values
	// of wrong sizes, or data in the wrong bucket.
	ErrData

	// ErrInput describes an error where the variables passed into this
	// function by the caller are obviously incorrect, e.g. by an
	// unrecorded transaction or a record that duplicates one already
	// stored.
	ErrInput

	// ErrNoExists describes an error where a queried record does not
	// exist in the store.
	ErrNoExists

	// ErrDuplicate describes an error where an inserted record collides
	// with one already stored under the same transaction and address.
	ErrDuplicate

	// ErrUnknownVersion describes an error where the database was created
	// with a newer, unknown schema version.
	ErrUnknownVersion
)

var errStrs = [...]string{
	ErrDatabase:       "ErrDatabase",
	ErrData:           "ErrData",
	ErrInput:          "ErrInput",
	ErrNoExists:       "ErrNoExists",
	ErrDuplicate:      "ErrDuplicate",
	ErrUnknownVersion: "ErrUnknownVersion",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if e < ErrorCode(len(errStrs)) {
		return errStrs[e]
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error provides a single type for errors that can happen during Store
// operation.
type Error struct {
	Code ErrorCode // Describes the kind of error
	Desc string    // Human readable description of the issue
	Err  error     // Underlying error, optional
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Desc + ": " + e.Err.Error()
	}
	return e.Desc
}

// storeError creates an Error given a set of arguments.
func storeError(c ErrorCode, desc string, err error) Error {
	return Error{Code: c, Desc: desc, Err: err}
}

// IsError returns whether the error is an Error with a matching error code.
func IsError(err error, code ErrorCode) bool {
	serr, ok := err.(Error)
	return ok && serr.Code == code
}
