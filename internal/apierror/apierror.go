package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindBadRequest     Kind = "bad_request"
	KindAuthentication Kind = "authentication_error"
	KindAuthorization  Kind = "authorization_error"
	KindNotFound       Kind = "resource_not_found"
	KindConflict       Kind = "conflict"
	KindInternal       Kind = "internal_service_error"
	KindUnavailable    Kind = "service_unavailable"
)

const (
	internalMessage    = "sorry, we cannot proceed with your request at the moment. please try again later"
	unavailableMessage = "a required service is unavailable. please try again later"
)

// APIError carries everything needed to answer a failed request. Description
// is for the server log only and never reaches the client.
type APIError struct {
	Code        int
	Kind        Kind
	Message     string
	Description string
	cause       error
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s (%d): %s: %s", e.Kind, e.Code, e.Message, e.Description)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.cause
}

type FailedRequestResponse struct {
	Status    string `json:"status"`
	ErrorType Kind   `json:"errorType"`
	Message   string `json:"message"`
}

func Validation(format string, args ...any) *APIError {
	return &APIError{Code: http.StatusBadRequest, Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) *APIError {
	return &APIError{Code: http.StatusBadRequest, Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...any) *APIError {
	return &APIError{Code: http.StatusUnauthorized, Kind: KindAuthentication, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) *APIError {
	return &APIError{Code: http.StatusForbidden, Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func NotFound(resource string) *APIError {
	return &APIError{Code: http.StatusNotFound, Kind: KindNotFound, Message: resource + " not found"}
}

func Conflict(format string, args ...any) *APIError {
	return &APIError{Code: http.StatusConflict, Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Internal hides err behind a generic message.
func Internal(err error) *APIError {
	return &APIError{
		Code:        http.StatusInternalServerError,
		Kind:        KindInternal,
		Message:     internalMessage,
		Description: describe(err),
		cause:       err,
	}
}

// Unavailable is for upstream collaborators (redis, search, object storage)
// that could not be reached.
func Unavailable(err error) *APIError {
	return &APIError{
		Code:        http.StatusServiceUnavailable,
		Kind:        KindUnavailable,
		Message:     unavailableMessage,
		Description: describe(err),
		cause:       err,
	}
}

func describe(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// From turns any error into an APIError, anything that isn't one already is
// treated as internal.
func From(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}

// Write sends err as a JSON failure body. Server side errors are logged with
// their description first.
func Write(w http.ResponseWriter, sugar *zap.SugaredLogger, err error) {
	apiErr := From(err)

	if apiErr.Code >= http.StatusInternalServerError {
		sugar.Errorw(apiErr.Message, "kind", apiErr.Kind, "description", apiErr.Description)
	} else {
		sugar.Debugw(apiErr.Message, "kind", apiErr.Kind, "code", apiErr.Code)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Code)

	encodeErr := json.NewEncoder(w).Encode(FailedRequestResponse{
		Status:    "fail",
		ErrorType: apiErr.Kind,
		Message:   apiErr.Message,
	})
	if encodeErr != nil {
		sugar.Error(encodeErr)
	}
}
