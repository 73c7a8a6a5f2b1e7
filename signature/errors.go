package signature

import (
	"errors"
	"fmt"
)

// Code identifies a verification failure. The set is closed: callers can
// switch exhaustively on these values.
type Code string

const (
	// CodeMissingSecret - the verifier was constructed with an empty secret.
	CodeMissingSecret Code = "MISSING_SECRET"

	// CodeMissingSignatureHeader - the signature header is empty or absent.
	CodeMissingSignatureHeader Code = "MISSING_SIGNATURE_HEADER"

	// CodeInvalidTimestamp - the t= element is present but not an integer.
	CodeInvalidTimestamp Code = "INVALID_TIMESTAMP"

	// CodeInvalidSignatureFormat - the header is missing its t= or v1= element.
	CodeInvalidSignatureFormat Code = "INVALID_SIGNATURE_FORMAT"

	// CodeTimestampTooOld - the timestamp is outside the tolerance window.
	// Future-dated timestamps report this code as well.
	CodeTimestampTooOld Code = "TIMESTAMP_TOO_OLD"

	// CodeInvalidSignature - the recomputed HMAC does not match the header.
	CodeInvalidSignature Code = "INVALID_SIGNATURE"

	// CodeVerificationError - an unexpected failure during verification.
	CodeVerificationError Code = "VERIFICATION_ERROR"
)

// VerificationError is the only error type returned by this package.
type VerificationError struct {
	Code    Code
	Message string
	cause   error
}

func (e *VerificationError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *VerificationError) Unwrap() error {
	return e.cause
}

func newError(code Code, message string) *VerificationError {
	return &VerificationError{Code: code, Message: message}
}

func wrapError(code Code, message string, cause error) *VerificationError {
	return &VerificationError{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the failure code from err. It returns CodeVerificationError
// for errors that did not originate in this package and an empty Code for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var verr *VerificationError
	if errors.As(err, &verr) {
		return verr.Code
	}
	return CodeVerificationError
}
