package app

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"yaw/api/internal/auth"
	"yaw/api/internal/authpw"
	"yaw/api/internal/blob"
	"yaw/api/internal/export"
	"yaw/api/internal/gitrepo"
	"yaw/api/internal/pagetree"
	"yaw/api/internal/search"
	"yaw/api/internal/settings"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

type errorClass struct {
	status  int
	code    string
	generic string
	targets []error
}

// errorClasses is checked in order; the first class with a matching sentinel
// wins.
var errorClasses = []errorClass{
	{http.StatusNotFound, "USER_NOT_FOUND", "User not found", []error{authpw.ErrNotFound}},
	{http.StatusNotFound, "NOT_FOUND", "Not found", []error{
		pagetree.ErrNotFound, blob.ErrNotFound, settings.ErrNotFound, gitrepo.ErrNotFound, export.ErrContentUnavailable,
	}},
	{http.StatusBadRequest, "INVALID_INPUT", "Invalid input", []error{
		authpw.ErrInvalidInput, pagetree.ErrInvalidInput, settings.ErrInvalidInput,
		blob.ErrInvalidKey, blob.ErrUnsupportedType, search.ErrEmptyTerm, export.ErrUnsupportedFormat,
	}},
	{http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", []error{
		authpw.ErrUnauthorized, auth.ErrInvalidToken, auth.ErrExpiredToken,
	}},
	{http.StatusConflict, "CONFLICT", "Conflict", []error{authpw.ErrConflict, pagetree.ErrConflict}},
	{http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not available on this server", []error{
		export.ErrPDFDependencyMissing, export.ErrDOCXDependencyMissing,
	}},
	{http.StatusServiceUnavailable, "UNAVAILABLE", "Service is shutting down", []error{pagetree.ErrClosed}},
	{http.StatusInternalServerError, "DATA_INTEGRITY", "Server error", []error{authpw.ErrDataIntegrity}},
	{http.StatusInternalServerError, "SERVER_ERROR", "Server error", []error{pagetree.ErrInternal}},
}

// mapError converts an error from any layer into the response triple.
// Client errors carry the error text; server errors only a generic message.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	for _, class := range errorClasses {
		for _, target := range class.targets {
			if !errors.Is(err, target) {
				continue
			}
			if class.status >= http.StatusInternalServerError {
				return class.status, class.code, class.generic, nil
			}
			return class.status, class.code, clientMessage(err, class.generic), nil
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func clientMessage(err error, fallback string) string {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return fallback
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
