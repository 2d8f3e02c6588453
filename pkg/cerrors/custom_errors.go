package cerrors

import "github.com/palantir/stacktrace"

type ErrorType string

const (
	ErrorTypeNonUserFriendly ErrorType = "NON_USER_FRIENDLY_ERROR"
	ErrorTypeGeneric         ErrorType = "GENERIC_ERROR"
	ErrorTypeConnection      ErrorType = "CONNECTION_ERROR"
	ErrorTypeAuth            ErrorType = "AUTH_ERROR"
	ErrorTypeNotFound        ErrorType = "NOT_FOUND_ERROR"
	ErrorTypeNoTarget        ErrorType = "NO_TARGET_ERROR"
	ErrorTypeTimeout         ErrorType = "TIMEOUT_ERROR"
	ErrorTypeReplicaMismatch ErrorType = "REPLICA_MISMATCH_ERROR"
)

type userFriendly interface {
	UserFriendly() bool
	ErrorType() ErrorType
}

// IsUserFriendly returns true if err is marked as safe to present in the report
func IsUserFriendly(err error) bool {
	ufe, ok := err.(userFriendly)
	return ok && ufe.UserFriendly()
}

// GetErrorType returns the type of error if the error is user-friendly
func GetErrorType(err error) ErrorType {
	if ufe, ok := err.(userFriendly); ok {
		return ufe.ErrorType()
	}
	return ErrorTypeNonUserFriendly
}

// GetRootCauseAndErrorCode unwraps the propagation chain down to the
// first user-friendly error and returns its message and code
func GetRootCauseAndErrorCode(err error) (string, ErrorType) {
	rootCause := stacktrace.RootCause(err)
	errorType := GetErrorType(rootCause)
	if !IsUserFriendly(rootCause) {
		return err.Error(), errorType
	}
	return rootCause.Error(), errorType
}

// IsFatal reports whether the error must abort the whole run,
// control-plane connectivity and credential failures are never
// recoverable by a later probe
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	_, code := GetRootCauseAndErrorCode(err)
	return code == ErrorTypeConnection || code == ErrorTypeAuth
}
