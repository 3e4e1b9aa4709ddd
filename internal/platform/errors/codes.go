// Package errors provides structured error handling with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Input errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// Caller errors
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeCallerTokenInvalid Code = "CALLER_TOKEN_INVALID"

	// Identity errors
	CodeIdentityNotFound      Code = "IDENTITY_NOT_FOUND"
	CodeIdentityAlreadyExists Code = "IDENTITY_ALREADY_EXISTS"
	CodeCannotDeactivateSelf  Code = "IDENTITY_CANNOT_DEACTIVATE_SELF"
	CodeProtectedIdentity     Code = "IDENTITY_PROTECTED"
	CodeIdentityStillActive   Code = "IDENTITY_STILL_ACTIVE"

	// Consent errors
	CodeSubjectNotFound          Code = "SUBJECT_NOT_FOUND"
	CodeSubjectInactive          Code = "SUBJECT_INACTIVE"
	CodeSubjectRoleInvalid       Code = "SUBJECT_ROLE_INVALID"
	CodeHandlerNotFound          Code = "HANDLER_NOT_FOUND"
	CodeHandlerMustBeHandlerRole Code = "HANDLER_MUST_BE_HANDLER_ROLE"
	CodeHandlerInactive          Code = "HANDLER_INACTIVE"
	CodeAlreadyPendingOrApproved Code = "GRANT_ALREADY_PENDING_OR_APPROVED"
	CodeGrantNotPending          Code = "GRANT_NOT_PENDING"
	CodeGrantNotApproved         Code = "GRANT_NOT_APPROVED"
	CodeStaleState               Code = "STALE_STATE"

	// Document errors
	CodeDocumentNotFound      Code = "DOCUMENT_NOT_FOUND"
	CodeDocumentAlreadyExists Code = "DOCUMENT_ALREADY_EXISTS"
	CodeDocumentTooLarge      Code = "DOCUMENT_TOO_LARGE"

	// External collaborator errors
	CodeStoreWriteFailed  Code = "STORE_WRITE_FAILED"
	CodeStoreReadFailed   Code = "STORE_READ_FAILED"
	CodeStoreUnavailable  Code = "STORE_UNAVAILABLE"
	CodeLedgerRejected    Code = "LEDGER_REJECTED"
	CodeLedgerTimeout     Code = "LEDGER_TIMEOUT"
	CodeLedgerUnavailable Code = "LEDGER_UNAVAILABLE"
)

// Kind groups codes into the caller-facing taxonomy. Presentation layers
// switch on Kind to decide retry behavior and on Code to pick a message.
type Kind string

const (
	KindUnknown                Kind = "UNKNOWN"
	KindInvalidArgument        Kind = "INVALID_ARGUMENT"
	KindUnauthorized           Kind = "UNAUTHORIZED"
	KindNotFound               Kind = "NOT_FOUND"
	KindInvalidStateTransition Kind = "INVALID_STATE_TRANSITION"
	KindAlreadyExists          Kind = "ALREADY_EXISTS"
	KindExternalFailure        Kind = "EXTERNAL_FAILURE"
)

// Kind maps a code to its taxonomy group.
func (c Code) Kind() Kind {
	switch c {
	case CodeInvalidArgument,
		CodeHandlerMustBeHandlerRole,
		CodeSubjectRoleInvalid,
		CodeDocumentTooLarge:
		return KindInvalidArgument

	case CodeUnauthorized,
		CodeCallerTokenInvalid,
		CodeCannotDeactivateSelf,
		CodeProtectedIdentity:
		return KindUnauthorized

	case CodeIdentityNotFound,
		CodeSubjectNotFound,
		CodeHandlerNotFound,
		CodeDocumentNotFound:
		return KindNotFound

	case CodeSubjectInactive,
		CodeHandlerInactive,
		CodeIdentityStillActive,
		CodeAlreadyPendingOrApproved,
		CodeGrantNotPending,
		CodeGrantNotApproved,
		CodeStaleState:
		return KindInvalidStateTransition

	case CodeIdentityAlreadyExists,
		CodeDocumentAlreadyExists:
		return KindAlreadyExists

	case CodeStoreWriteFailed,
		CodeStoreReadFailed,
		CodeStoreUnavailable,
		CodeLedgerRejected,
		CodeLedgerTimeout,
		CodeLedgerUnavailable:
		return KindExternalFailure

	default:
		return KindUnknown
	}
}

// Retryable reports whether a caller may retry a read operation that failed
// with this code. Writes are never retried automatically.
func (c Code) Retryable() bool {
	return c.Kind() == KindExternalFailure && c != CodeLedgerRejected
}

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeCallerTokenInvalid:
		return codes.Unauthenticated
	case CodeLedgerTimeout:
		return codes.DeadlineExceeded
	case CodeLedgerRejected:
		return codes.Aborted
	case CodeStaleState:
		return codes.Aborted
	}

	switch c.Kind() {
	case KindInvalidArgument:
		return codes.InvalidArgument
	case KindUnauthorized:
		return codes.PermissionDenied
	case KindNotFound:
		return codes.NotFound
	case KindInvalidStateTransition:
		return codes.FailedPrecondition
	case KindAlreadyExists:
		return codes.AlreadyExists
	case KindExternalFailure:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
