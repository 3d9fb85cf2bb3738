package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the reservation engine. Business errors surface to the
// caller unchanged; Conflict is retried inside the ledger before escalating as
// Transient; InvariantViolation indicates a programming bug and is never
// reported to the end user as a business condition.
var (
	ErrNotFound            = errors.New("resource not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrProductUnavailable  = errors.New("product unavailable")
	ErrUserLimit           = errors.New("user reservation limit reached")
	ErrNotOwner            = errors.New("reservation belongs to another user")
	ErrNotPending          = errors.New("reservation is not pending")
	ErrReservationExpired  = errors.New("reservation expired")
	ErrNotCancellable      = errors.New("reservation cannot be cancelled")
	ErrIdempotencyConflict = errors.New("idempotency key reused with different payload")
	ErrConflict            = errors.New("concurrent modification conflict")
	ErrTransient           = errors.New("transient failure")
	ErrInvariantViolation  = errors.New("ledger invariant violation")
)

// AppError is a structured application error carrying a machine-readable wire
// code and an HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "not_found",
		Message: fmt.Sprintf("%s %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput creates a 400 validation error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "validation_error",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// InsufficientStock creates a 400 error for a failed availability check.
func InsufficientStock(available, requested int) *AppError {
	return &AppError{
		Code:    "insufficient_stock",
		Message: fmt.Sprintf("insufficient stock: available %d, requested %d", available, requested),
		Status:  http.StatusBadRequest,
		Err:     ErrInsufficientStock,
	}
}

// ProductUnavailable creates a 400 error for a missing or inactive product.
func ProductUnavailable(productID int64) *AppError {
	return &AppError{
		Code:    "product_unavailable",
		Message: fmt.Sprintf("product %d does not exist or is not active", productID),
		Status:  http.StatusBadRequest,
		Err:     ErrProductUnavailable,
	}
}

// UserLimit creates a 400 error for the active-reservations-per-user cap.
func UserLimit(limit int) *AppError {
	return &AppError{
		Code:    "user_limit",
		Message: fmt.Sprintf("active reservation limit of %d reached", limit),
		Status:  http.StatusBadRequest,
		Err:     ErrUserLimit,
	}
}

// NotOwner creates a 403 error for an ownership mismatch.
func NotOwner() *AppError {
	return &AppError{
		Code:    "not_owner",
		Message: "reservation belongs to another user",
		Status:  http.StatusForbidden,
		Err:     ErrNotOwner,
	}
}

// NotPending creates a 400 error for an operation on a terminal reservation.
func NotPending(status string) *AppError {
	return &AppError{
		Code:    "not_pending",
		Message: fmt.Sprintf("reservation is %s, expected pending", status),
		Status:  http.StatusBadRequest,
		Err:     ErrNotPending,
	}
}

// ReservationExpired creates a 400 error for a confirm attempt past expiry.
// The expiry transition has already been performed when this is returned.
func ReservationExpired() *AppError {
	return &AppError{
		Code:    "reservation_expired",
		Message: "reservation hold has expired",
		Status:  http.StatusBadRequest,
		Err:     ErrReservationExpired,
	}
}

// NotCancellable creates a 400 error for a cancel attempt on a terminal reservation.
func NotCancellable(status string) *AppError {
	return &AppError{
		Code:    "not_cancellable",
		Message: fmt.Sprintf("reservation is %s and cannot be cancelled", status),
		Status:  http.StatusBadRequest,
		Err:     ErrNotCancellable,
	}
}

// IdempotencyConflict creates a 409 error for a reused key with a different payload.
func IdempotencyConflict(key string) *AppError {
	return &AppError{
		Code:    "idempotency_conflict",
		Message: fmt.Sprintf("idempotency key %q was used with a different payload", key),
		Status:  http.StatusConflict,
		Err:     ErrIdempotencyConflict,
	}
}

// Conflict creates a retryable optimistic-concurrency error. The ledger retries
// these internally up to its configured ceiling.
func Conflict(productID int64) *AppError {
	return &AppError{
		Code:    "conflict",
		Message: fmt.Sprintf("concurrent update on stock row for product %d", productID),
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// Transient creates a 503 error with a retry hint.
func Transient(err error) *AppError {
	return &AppError{
		Code:    "transient",
		Message: "temporary failure, retry the request",
		Status:  http.StatusServiceUnavailable,
		Err:     errors.Join(ErrTransient, err),
	}
}

// InvariantViolation creates a 500 error for broken ledger arithmetic. Logged
// as a defect by the caller.
func InvariantViolation(detail string) *AppError {
	return &AppError{
		Code:    "internal",
		Message: detail,
		Status:  http.StatusInternalServerError,
		Err:     ErrInvariantViolation,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrProductUnavailable),
		errors.Is(err, ErrUserLimit),
		errors.Is(err, ErrNotPending),
		errors.Is(err, ErrReservationExpired),
		errors.Is(err, ErrNotCancellable):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, ErrIdempotencyConflict), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsBusiness reports whether the error is a business condition that should be
// returned to the caller as a 4xx rather than logged as a defect.
func IsBusiness(err error) bool {
	status := HTTPStatus(err)
	return status >= 400 && status < 500
}
