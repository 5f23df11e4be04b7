// Package errors provides the error handling system shared by the packforge
// release pipeline. It extends Go's standard error handling with structured
// error codes, context preservation, and errors.Is/As compatibility.
package errors

// ErrorCode identifies a specific error condition in the release pipeline.
// Error codes are string-based for debuggability and natural JSON serialization.
type ErrorCode string

const (
	// Resource errors.

	// CodeNotFound indicates a requested resource does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeAlreadyExists indicates a resource already exists and cannot be created again.
	CodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// Permission errors.

	// CodeUnauthorized indicates the request lacks valid authentication credentials.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeForbidden indicates the authenticated identity lacks permission for the operation.
	CodeForbidden ErrorCode = "FORBIDDEN"

	// Validation errors.

	// CodeInvalidInput indicates the provided input is invalid or malformed.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeInvalidConfig indicates a configuration error prevents the operation.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIGURATION"

	// CodeCountMismatch indicates the fetched artifact count does not match the
	// expected distribution count for the release.
	CodeCountMismatch ErrorCode = "ARTIFACT_COUNT_MISMATCH"

	// Infrastructure errors.

	// CodeNetwork indicates a network operation failed.
	CodeNetwork ErrorCode = "NETWORK_ERROR"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// Pipeline errors.

	// CodeLocateFailed indicates the build-run lookup failed or returned no runs.
	CodeLocateFailed ErrorCode = "RUN_LOCATE_FAILED"

	// CodeFetchFailed indicates artifact download or merge failed.
	CodeFetchFailed ErrorCode = "ARTIFACT_FETCH_FAILED"

	// CodeAttestFailed indicates provenance attestation generation failed.
	CodeAttestFailed ErrorCode = "ATTESTATION_FAILED"

	// CodePublishFailed indicates a registry upload was rejected or failed.
	CodePublishFailed ErrorCode = "PUBLISH_FAILED"

	// CodeApprovalDenied indicates the approval gate rejected or timed out.
	CodeApprovalDenied ErrorCode = "APPROVAL_DENIED"

	// CodeCancelled indicates the run was cancelled, typically by a newer
	// dispatch in the same concurrency group.
	CodeCancelled ErrorCode = "CANCELLED"

	// System errors.

	// CodeInternal indicates an internal system error occurred.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// Generic errors.

	// CodeUnknown indicates an unknown or unclassified error occurred.
	CodeUnknown ErrorCode = "UNKNOWN"
)
