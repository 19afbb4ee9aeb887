package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrMessageNotFound    = fmt.Errorf("message %w", ErrNotFound)
	ErrRoomNotFound       = fmt.Errorf("room %w", ErrNotFound)
	ErrMembershipNotFound = fmt.Errorf("membership %w", ErrNotFound)

	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthorized)
	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrUnauthorized)

	ErrForbidden      = errors.New("forbidden")
	ErrNotParticipant = fmt.Errorf("%w: user is not a participant of this room", ErrForbidden)
	ErrNotJoined      = fmt.Errorf("%w: join the room before sending to it", ErrForbidden)

	ErrValidation  = errors.New("validation failed")
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrPersistence = errors.New("persistence failure")
	ErrInternal    = errors.New("internal server error")
)

// Validation wraps ErrValidation with a human readable reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Persistence wraps a storage driver error so callers can match ErrPersistence
// without losing the cause.
func Persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

type APIError struct {
	Message string `json:"error"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(message string, code int) *APIError {
	return &APIError{
		Message: message,
		Code:    code,
	}
}

func HTTPStatusFromError(err error) int {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Code
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text safe to show a client. Server-side failures are
// collapsed into a generic message; the cause stays in the logs.
func PublicMessage(err error) string {
	if HTTPStatusFromError(err) >= http.StatusInternalServerError {
		return ErrInternal.Error()
	}
	return err.Error()
}
