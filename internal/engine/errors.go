package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/cdv/internal/store"
)

// EngineError represents a classified failure of an engine operation.
//
// Kinds:
//   - ValidationError: malformed event or request; the item is skipped
//   - StateError: the quota or certificate is not in a state that allows the operation
//   - ConflictError: a concurrent writer won a race; the caller may retry
//   - IntegrityError: stored data does not match its hash
//   - TransientError: storage is unavailable; the whole run aborts and is retried
//
// EngineError includes structured fields for diagnostics.
type EngineError struct {
	// Kind identifies the taxonomy bucket.
	Kind ErrorKind

	// Code identifies the specific reason inside the kind.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// EventID identifies the affected impact event (promotion errors).
	EventID string

	// QuotaID identifies the affected quota.
	QuotaID string

	// CertificateID identifies the affected certificate.
	CertificateID string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorKind is the top-level error category.
type ErrorKind string

const (
	KindValidation ErrorKind = "VALIDATION"
	KindState      ErrorKind = "STATE"
	KindConflict   ErrorKind = "CONFLICT"
	KindIntegrity  ErrorKind = "INTEGRITY"
	KindTransient  ErrorKind = "TRANSIENT"
)

// ErrorCode categorizes engine errors inside a kind.
type ErrorCode string

const (
	// ErrCodeInvalidEvent indicates a malformed type, quantity or reference.
	ErrCodeInvalidEvent ErrorCode = "INVALID_EVENT"

	// ErrCodeUnknownProject indicates an event or quota names a missing project.
	ErrCodeUnknownProject ErrorCode = "UNKNOWN_PROJECT"

	// ErrCodeInvalidRequest indicates a malformed operator or API request.
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"

	// ErrCodeNotFound indicates the quota or certificate does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeNotReady indicates the quota is not in status ready.
	ErrCodeNotReady ErrorCode = "NOT_READY"

	// ErrCodeAlreadyCertified indicates the quota already has a certificate.
	ErrCodeAlreadyCertified ErrorCode = "ALREADY_CERTIFIED"

	// ErrCodeAlreadyRevoked indicates the certificate is already invalid.
	ErrCodeAlreadyRevoked ErrorCode = "ALREADY_REVOKED"

	// ErrCodeSoldOut indicates every quota of the project has been sold.
	ErrCodeSoldOut ErrorCode = "SOLD_OUT"

	// ErrCodeConflict indicates a lost race on attribution or numbering.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeHashMismatch indicates a stored certificate fails verification.
	ErrCodeHashMismatch ErrorCode = "HASH_MISMATCH"

	// ErrCodeUnreadableRecord indicates a stored row no longer decodes.
	ErrCodeUnreadableRecord ErrorCode = "UNREADABLE_RECORD"

	// ErrCodeStorageUnavailable indicates the storage layer failed.
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
)

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.QuotaID != "":
		msg += fmt.Sprintf(" (quota=%s)", e.QuotaID)
	case e.EventID != "":
		msg += fmt.Sprintf(" (event=%s)", e.EventID)
	case e.CertificateID != "":
		msg += fmt.Sprintf(" (certificate=%s)", e.CertificateID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func kindOf(err error) (ErrorKind, ErrorCode, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind, ee.Code, true
	}
	return "", "", false
}

// IsValidation returns true if err is a ValidationError.
func IsValidation(err error) bool {
	k, _, ok := kindOf(err)
	return ok && k == KindValidation
}

// IsState returns true if err is a StateError.
func IsState(err error) bool {
	k, _, ok := kindOf(err)
	return ok && k == KindState
}

// IsConflict returns true if err is a ConflictError.
func IsConflict(err error) bool {
	k, _, ok := kindOf(err)
	return ok && k == KindConflict
}

// IsIntegrity returns true if err is an IntegrityError.
func IsIntegrity(err error) bool {
	k, _, ok := kindOf(err)
	return ok && k == KindIntegrity
}

// IsTransient returns true if err is a TransientError.
func IsTransient(err error) bool {
	k, _, ok := kindOf(err)
	return ok && k == KindTransient
}

// IsNotReady returns true if the quota was not ready for issuance.
func IsNotReady(err error) bool {
	_, c, ok := kindOf(err)
	return ok && c == ErrCodeNotReady
}

// IsAlreadyCertified returns true if the quota already had a certificate.
func IsAlreadyCertified(err error) bool {
	_, c, ok := kindOf(err)
	return ok && c == ErrCodeAlreadyCertified
}

// IsNotFound returns true if the quota or certificate does not exist.
func IsNotFound(err error) bool {
	_, c, ok := kindOf(err)
	return ok && c == ErrCodeNotFound
}

// CodeOf returns the error code of an EngineError, or "" for other errors.
func CodeOf(err error) ErrorCode {
	_, c, _ := kindOf(err)
	return c
}

// NewValidationError creates a ValidationError for an impact event.
func NewValidationError(eventID string, code ErrorCode, message string, cause error) *EngineError {
	return &EngineError{Kind: KindValidation, Code: code, Message: message, EventID: eventID, Err: cause}
}

// NewNotReadyError creates a StateError for a quota that cannot be certified yet.
func NewNotReadyError(quotaID, message string) *EngineError {
	return &EngineError{Kind: KindState, Code: ErrCodeNotReady, Message: message, QuotaID: quotaID}
}

// NewAlreadyCertifiedError creates a StateError for a quota with a certificate.
func NewAlreadyCertifiedError(quotaID string) *EngineError {
	return &EngineError{
		Kind:    KindState,
		Code:    ErrCodeAlreadyCertified,
		Message: "quota already has a certificate",
		QuotaID: quotaID,
	}
}

// NewNotFoundError creates a StateError for a missing quota, certificate,
// project or investor.
func NewNotFoundError(what, id string, cause error) *EngineError {
	e := &EngineError{Kind: KindState, Code: ErrCodeNotFound, Message: what + " not found", Err: cause}
	switch what {
	case "quota":
		e.QuotaID = id
	case "certificate":
		e.CertificateID = id
	default:
		e.Message = what + " " + id + " not found"
	}
	return e
}

// NewConflictError creates a ConflictError for a lost race.
func NewConflictError(quotaID, message string, cause error) *EngineError {
	return &EngineError{Kind: KindConflict, Code: ErrCodeConflict, Message: message, QuotaID: quotaID, Err: cause}
}

// NewUnreadableQuotaError creates an IntegrityError for a quota row a
// batch job had to skip.
func NewUnreadableQuotaError(err *store.UnreadableQuotaError) *EngineError {
	return &EngineError{
		Kind:    KindIntegrity,
		Code:    ErrCodeUnreadableRecord,
		Message: "quota record cannot be read",
		QuotaID: err.QuotaID,
		Err:     err,
	}
}

// unreadableQuotas logs the skipped rows of a batch listing and returns
// them as per-quota errors.
func (e *Engine) unreadableQuotas(batch store.QuotaBatch) []error {
	errs := make([]error, 0, len(batch.Unreadable))
	for _, u := range batch.Unreadable {
		e.logger.Error("skipping unreadable quota", "quota_id", u.QuotaID, "error", u.Err)
		errs = append(errs, NewUnreadableQuotaError(u))
	}
	return errs
}

// NewTransientError creates a TransientError for a storage failure.
func NewTransientError(op string, cause error) *EngineError {
	return &EngineError{Kind: KindTransient, Code: ErrCodeStorageUnavailable, Message: op, Err: cause}
}

// classifyQuotaError maps store failures inside a per-quota transaction
// onto the taxonomy. EngineErrors pass through unchanged.
func classifyQuotaError(quotaID, op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	switch {
	case store.IsTransient(err):
		return NewTransientError(op, err)
	case errors.Is(err, store.ErrStaleState), store.IsUniqueViolation(err):
		return NewConflictError(quotaID, op+": concurrent update", err)
	case errors.Is(err, store.ErrNotFound):
		return NewNotFoundError("quota", quotaID, err)
	}
	return fmt.Errorf("%s (quota=%s): %w", op, quotaID, err)
}
