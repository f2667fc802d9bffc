package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"confessional/api/internal/auth"
	"confessional/api/internal/authpw"
	"confessional/api/internal/moderation"
)

// DomainError is the transport shape of every failure: an HTTP status, a
// stable machine code and optional details.
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
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}

// toDomainError maps engine, store and auth errors onto transport errors.
// Anything unrecognised is a 500 whose message hides the cause.
func toDomainError(err error) *DomainError {
	var (
		domainErr *DomainError
		notFound  *moderation.NotFoundError
		already   *moderation.AlreadyProcessedError
		invalid   *moderation.ValidationError
		collabErr *moderation.CollaboratorError
		tooLarge  *http.MaxBytesError
	)
	switch {
	case errors.As(err, &domainErr):
		return domainErr
	case errors.As(err, &notFound):
		return domainError(http.StatusNotFound, "NOT_FOUND", notFound.Error(), nil)
	case errors.As(err, &already):
		return domainError(http.StatusConflict, "ALREADY_PROCESSED", already.Error(), alreadyProcessedDetails(already))
	case errors.As(err, &invalid):
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", invalid.Message, map[string]any{"field": invalid.Field})
	case errors.Is(err, moderation.ErrSourceDisabled):
		return domainError(http.StatusServiceUnavailable, "SOURCE_DISABLED", "Source is not configured", nil)
	case errors.As(err, &collabErr):
		return domainError(http.StatusBadGateway, "UPSTREAM_FAILED", collabErr.Error(), map[string]any{"collaborator": collabErr.Collaborator})
	case errors.As(err, &tooLarge):
		return domainError(http.StatusRequestEntityTooLarge, "TOO_LARGE", "Request body too large", nil)
	case errors.Is(err, sql.ErrNoRows):
		return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domainError(http.StatusServiceUnavailable, "TIMEOUT", "Request cancelled", nil)
	}
	return domainError(http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
}

func alreadyProcessedDetails(err *moderation.AlreadyProcessedError) map[string]any {
	details := map[string]any{"outcome": err.Outcome}
	if err.PublicID != nil {
		details["publicId"] = *err.PublicID
	}
	if err.PostRef != "" {
		details["postRef"] = err.PostRef
	}
	return details
}
