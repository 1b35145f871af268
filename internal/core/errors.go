package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies errors returned to callers of Service operations.
type ErrorKind string

const (
	KindNotFound        ErrorKind = "not_found"
	KindBadRequest      ErrorKind = "bad_request"
	KindInvalidArgument ErrorKind = "invalid_argument"
	KindConflict        ErrorKind = "conflict"
)

// AppError is a typed error the HTTP layer translates to a status code.
type AppError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func newAppError(kind ErrorKind, code, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *AppError {
	return newAppError(KindNotFound, "NF001", format, args...)
}

func BadRequestf(format string, args ...any) *AppError {
	return newAppError(KindBadRequest, "REQ001", format, args...)
}

func InvalidArgumentf(format string, args ...any) *AppError {
	return newAppError(KindInvalidArgument, "REQ002", format, args...)
}

func Conflictf(format string, args ...any) *AppError {
	return newAppError(KindConflict, "CON001", format, args...)
}

func kindOf(err error) ErrorKind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

func IsNotFound(err error) bool { return kindOf(err) == KindNotFound }

func IsConflict(err error) bool { return kindOf(err) == KindConflict }

// IsInvalidArgument also matches plain bad requests.
func IsInvalidArgument(err error) bool {
	k := kindOf(err)
	return k == KindInvalidArgument || k == KindBadRequest
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch kindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest, KindInvalidArgument:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	}
	if errors.Is(err, ErrTooManyRuns) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
