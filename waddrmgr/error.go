package waddrmgr

import "fmt"

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific ManagerError.
const (
	// ErrDatabase indicates an error with the underlying database.  When
	// this error code is set, the Err field of the ManagerError will be
	// set to the underlying error returned from the database.
	ErrDatabase ErrorCode = iota

	// ErrCrypto indicates an error with the cryptography related
	// operations such as decrypting or encrypting data.
	ErrCrypto

	// ErrNoExist indicates that the specified database does not exist.
	ErrNoExist

	// ErrAlreadyExists indicates that the specified database already
	// exists.
	ErrAlreadyExists

	// ErrAccountNotFound indicates that the requested account does not
	// exist.
	ErrAccountNotFound

	// ErrAddressNotFound indicates that the requested address is not
	// known to the address manager.
	ErrAddressNotFound

	// ErrDuplicateAddress indicates an address already exists.
	ErrDuplicateAddress

	// ErrAddressPoolExhausted indicates that all addresses in the
	// pre-generated pool have been handed out already.
	ErrAddressPoolExhausted

	// ErrLocked indicates that an operation, which requires the account
	// manager to be unlocked, was invoked on a locked manager.
	ErrLocked

	// ErrWrongPassphrase indicates that the specified passphrase is
	// incorrect.  This could be for either the public or private master
	// keys.
	ErrWrongPassphrase
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errCodeStrings = map[ErrorCode]string{
	ErrDatabase:             "ErrDatabase",
	ErrCrypto:               "ErrCrypto",
	ErrNoExist:              "ErrNoExist",
	ErrAlreadyExists:        "ErrAlreadyExists",
	ErrAccountNotFound:      "ErrAccountNotFound",
	ErrAddressNotFound:      "ErrAddressNotFound",
	ErrDuplicateAddress:     "ErrDuplicateAddress",
	ErrAddressPoolExhausted: "ErrAddressPoolExhausted",
	ErrLocked:               "ErrLocked",
	ErrWrongPassphrase:      "ErrWrongPassphrase",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// ManagerError provides a single type for errors that can happen during
// address manager operation.  It is used to indicate several types of
// failures including errors with caller requests such as unknown accounts,
// errors with the database, and errors with key encryption.
//
// The caller can use type assertions to determine if an error is a
// ManagerError and access the ErrorCode field to ascertain the specific
// reason for the failure.
type ManagerError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e ManagerError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// managerError creates a ManagerError given a set of arguments.
func managerError(c ErrorCode, desc string, err error) ManagerError {
	return ManagerError{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether the error is a ManagerError with a matching error
// code.
func IsError(err error, code ErrorCode) bool {
	e, ok := err.(ManagerError)
	return ok && e.ErrorCode == code
}
