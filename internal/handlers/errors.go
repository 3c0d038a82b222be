package handlers

import (
	"errors"
	"net/http"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/yescateam/camp-desk-api/internal/apperr"
	"go.uber.org/zap"
)

// ErrorBody is the wire shape of every error response: {"error": "..."}.
type ErrorBody struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
}

func (e *ErrorBody) Error() string {
	return e.Message
}

func (e *ErrorBody) GetStatus() int {
	return e.Status
}

var errorFormatOnce sync.Once

// useErrorBody replaces huma's problem+json errors with ErrorBody. Request
// validation failures are reported as 400 with the first problem found.
func useErrorBody() {
	errorFormatOnce.Do(func() {
		huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
			if status == http.StatusUnprocessableEntity {
				status = http.StatusBadRequest
			}
			for _, err := range errs {
				var detail *huma.ErrorDetail
				if errors.As(err, &detail) && detail.Message != "" {
					if detail.Location != "" {
						msg = detail.Location + ": " + detail.Message
					} else {
						msg = detail.Message
					}
					break
				}
			}
			return &ErrorBody{Status: status, Message: msg}
		}
	})
}

// toHTTP maps service errors onto status codes. Errors that already carry a
// status pass through.
func toHTTP(logger *zap.Logger, err error) error {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return err
	}

	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case apperr.IsValidation(err):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, apperr.ErrConflict):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, apperr.ErrRateLimited):
		return huma.Error429TooManyRequests(err.Error())
	case errors.Is(err, apperr.ErrDependency):
		logger.Error("dependency failure", zap.Error(errors.Unwrap(err)), zap.String("message", err.Error()))
		return huma.Error500InternalServerError(err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		return huma.Error500InternalServerError("Internal server error")
	}
}
