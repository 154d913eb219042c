package errors

import "net/http"

// Domain error types (SPEC_FULL §7 taxonomy), layered onto the existing
// ErrorType classification alongside the teacher's transport-level types
// (ErrorTypeNetwork, ErrorTypeRateLimit, ...). A ClassifiedError carrying
// one of these in its Type field is produced by the storage/collector/
// exchange layers directly, rather than inferred from an opaque Go error
// by classifyErrorType, since the caller already knows exactly which
// domain condition occurred.
const (
	// Input errors
	ErrorTypeInvalidIdentity ErrorType = "invalid_identity"
	ErrorTypeMissingStart    ErrorType = "missing_start"
	ErrorTypeSchemaMismatch  ErrorType = "schema_mismatch"
	ErrorTypeUnknownExchange ErrorType = "unknown_exchange"
	ErrorTypeUnknownSymbol   ErrorType = "unknown_symbol"

	// Transient errors
	ErrorTypeRateLimited    ErrorType = "rate_limited"
	ErrorTypeNetworkTimeout ErrorType = "network_timeout"
	ErrorTypeBanned         ErrorType = "banned"

	// Integrity errors
	ErrorTypeDataIntegrity     ErrorType = "data_integrity"
	ErrorTypeCorruptExisting   ErrorType = "corrupt_existing"
	ErrorTypeChecksumMismatch  ErrorType = "checksum_mismatch"

	// Environment errors
	ErrorTypeDiskFull         ErrorType = "disk_full"
	ErrorTypePermissionDenied ErrorType = "permission_denied"
	ErrorTypeManifestLocked   ErrorType = "manifest_locked"

	// Lifecycle errors
	ErrorTypeAlreadyRunning ErrorType = "already_running"
	ErrorTypeCancelled      ErrorType = "cancelled"
	ErrorTypeNotFound       ErrorType = "not_found"
)

// NewDomainError builds a ClassifiedError for a known domain condition,
// the core-layer counterpart to ErrorClassifier.Classify (which infers a
// type from an opaque error); severity and retryability are derived from
// a fixed table rather than heuristics since the type is already exact.
func NewDomainError(errType ErrorType, component, operation string, cause error) *ClassifiedError {
	return &ClassifiedError{
		Err:       cause,
		Type:      errType,
		Severity:  domainSeverity[errType],
		Retryable: domainRetryable[errType],
		Component: component,
		Operation: operation,
	}
}

var domainSeverity = map[ErrorType]Severity{
	ErrorTypeInvalidIdentity: SeverityLow,
	ErrorTypeMissingStart:    SeverityLow,
	ErrorTypeSchemaMismatch:  SeverityMedium,
	ErrorTypeUnknownExchange: SeverityLow,
	ErrorTypeUnknownSymbol:   SeverityLow,

	ErrorTypeRateLimited:    SeverityLow,
	ErrorTypeNetworkTimeout: SeverityMedium,
	ErrorTypeBanned:         SeverityHigh,

	ErrorTypeDataIntegrity:    SeverityCritical,
	ErrorTypeCorruptExisting:  SeverityHigh,
	ErrorTypeChecksumMismatch: SeverityCritical,

	ErrorTypeDiskFull:         SeverityHigh,
	ErrorTypePermissionDenied: SeverityHigh,
	ErrorTypeManifestLocked:   SeverityMedium,

	ErrorTypeAlreadyRunning: SeverityLow,
	ErrorTypeCancelled:      SeverityLow,
	ErrorTypeNotFound:       SeverityLow,
}

var domainRetryable = map[ErrorType]bool{
	ErrorTypeRateLimited:    true,
	ErrorTypeNetworkTimeout: true,
	ErrorTypeManifestLocked: true,
}

// domainHTTPStatus maps ErrorType to the status code the REST adapter
// (SPEC_FULL §6) returns for it, a single lookup table per §7
// "Implementation": "the REST adapter maps ErrorType -> status code via a
// single lookup table rather than re-deriving the classification per
// handler."
var domainHTTPStatus = map[ErrorType]int{
	ErrorTypeInvalidIdentity: http.StatusBadRequest,
	ErrorTypeMissingStart:    http.StatusBadRequest,
	ErrorTypeSchemaMismatch:  http.StatusBadRequest,
	ErrorTypeUnknownExchange: http.StatusNotFound,
	ErrorTypeUnknownSymbol:   http.StatusNotFound,

	ErrorTypeRateLimited:    http.StatusTooManyRequests,
	ErrorTypeNetworkTimeout: http.StatusGatewayTimeout,
	ErrorTypeBanned:         http.StatusForbidden,

	ErrorTypeDataIntegrity:    http.StatusInternalServerError,
	ErrorTypeCorruptExisting:  http.StatusInternalServerError,
	ErrorTypeChecksumMismatch: http.StatusInternalServerError,

	ErrorTypeDiskFull:         http.StatusInsufficientStorage,
	ErrorTypePermissionDenied: http.StatusForbidden,
	ErrorTypeManifestLocked:   http.StatusServiceUnavailable,

	ErrorTypeAlreadyRunning: http.StatusConflict,
	ErrorTypeCancelled:      http.StatusGone,
	ErrorTypeNotFound:       http.StatusNotFound,
}

// HTTPStatus returns the REST status code for err's classified type, or
// 500 if err is not a *ClassifiedError or its type has no mapping.
func HTTPStatus(err error) int {
	ce, ok := err.(*ClassifiedError)
	if !ok {
		return http.StatusInternalServerError
	}
	if status, ok := domainHTTPStatus[ce.Type]; ok {
		return status
	}
	return http.StatusInternalServerError
}
