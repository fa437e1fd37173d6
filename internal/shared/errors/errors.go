package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error classes. Callers classify with errors.Is.
var (
	ErrNotFound           = errors.New("resource not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrBadRequest         = errors.New("bad request")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal error")
	ErrValidation         = errors.New("validation error")
	ErrIllegalTransition  = errors.New("illegal transition")
	ErrPreconditionNotMet = errors.New("precondition not met")
	ErrAdvisorUnavailable = errors.New("advisor unavailable")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a not found error
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Message:    message,
		Code:       "UNAUTHORIZED",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Forbidden creates a forbidden error
func Forbidden(message string) *AppError {
	return &AppError{
		Err:        ErrForbidden,
		Message:    message,
		Code:       "FORBIDDEN",
		HTTPStatus: http.StatusForbidden,
	}
}

// BadRequest creates a bad request error
func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Message:    message,
		Code:       "BAD_REQUEST",
		HTTPStatus: http.StatusBadRequest,
	}
}

// Validation reports required data missing for a requested transition.
func Validation(message string, details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Message:    message,
		Code:       "VALIDATION_ERROR",
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// AlreadySigned is the Validation-class error returned when a signed
// clinical file or round is signed a second time.
func AlreadySigned(entity, id string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Message:    fmt.Sprintf("%s is already signed", entity),
		Code:       "ALREADY_SIGNED",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]string{"entity": entity, "id": id},
	}
}

// IllegalTransition reports a state change outside the allowed adjacency.
func IllegalTransition(entity, from, to string) *AppError {
	return &AppError{
		Err:        ErrIllegalTransition,
		Message:    fmt.Sprintf("%s cannot move from %s to %s", entity, from, to),
		Code:       "ILLEGAL_TRANSITION",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]string{"entity": entity, "from": from, "to": to},
	}
}

// PreconditionNotMet reports an operation attempted before its gate opened.
func PreconditionNotMet(message string) *AppError {
	return &AppError{
		Err:        ErrPreconditionNotMet,
		Message:    message,
		Code:       "PRECONDITION_NOT_MET",
		HTTPStatus: http.StatusPreconditionFailed,
	}
}

// FileNotSigned is returned when orders are created before clinical file sign-off.
func FileNotSigned(patientID string) *AppError {
	return &AppError{
		Err:        ErrPreconditionNotMet,
		Message:    "clinical file is not signed",
		Code:       "FILE_NOT_SIGNED",
		HTTPStatus: http.StatusPreconditionFailed,
		Details:    map[string]string{"patient_id": patientID},
	}
}

// AdvisorUnavailable wraps a failed or timed out advisor call.
func AdvisorUnavailable(operation string, err error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %v", ErrAdvisorUnavailable, err),
		Message:    fmt.Sprintf("advisor %s unavailable", operation),
		Code:       "ADVISOR_UNAVAILABLE",
		HTTPStatus: http.StatusServiceUnavailable,
		Details:    map[string]string{"operation": operation},
	}
}

// Conflict creates a conflict error
func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Message:    message,
		Code:       "CONFLICT",
		HTTPStatus: http.StatusConflict,
	}
}

// Internal creates an internal error
func Internal(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "internal server error",
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Wrap wraps an error with additional context. AppErrors keep their class.
func Wrap(err error, message string) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Err:        appErr.Err,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			Code:       appErr.Code,
			HTTPStatus: appErr.HTTPStatus,
			Details:    appErr.Details,
		}
	}
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// HTTPStatus maps any error onto a response status code.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
