package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/generation"
	"github.com/fyrsmithlabs/ragd/internal/ingestion"
	"github.com/fyrsmithlabs/ragd/internal/ragerr"
	"github.com/fyrsmithlabs/ragd/internal/services"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Stage     string `json:"stage,omitempty"`
	Retryable bool   `json:"retryable"`
}

// statusFor maps a core error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ragerr.ErrInvalidArgument), errors.Is(err, ragerr.ErrEmptyContent):
		return http.StatusBadRequest
	case errors.Is(err, ragerr.ErrTenantNotFound),
		errors.Is(err, ragerr.ErrConversationNotFound),
		errors.Is(err, ingestion.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ragerr.ErrEmbeddingUnavailable),
		errors.Is(err, generation.ErrCircuitOpen),
		errors.Is(err, services.ErrAsyncDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, ragerr.ErrEmbeddingFailed), errors.Is(err, ragerr.ErrGenerationFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func errorBody(err error) ErrorResponse {
	return ErrorResponse{
		Error:     err.Error(),
		Stage:     string(ragerr.StageOf(err)),
		Retryable: ragerr.IsRetryable(err),
	}
}

// handleError renders echo and core errors as ErrorResponse.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var (
		status int
		body   ErrorResponse
		he     *echo.HTTPError
	)
	if errors.As(err, &he) {
		status = he.Code
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		body = ErrorResponse{Error: msg}
	} else {
		status = statusFor(err)
		body = errorBody(err)
	}

	ctx := c.Request().Context()
	if status >= http.StatusInternalServerError {
		s.logger.Error(ctx, "request failed", zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Debug(ctx, "request rejected", zap.Int("status", status), zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.logger.Warn(ctx, "failed to write error response", zap.Error(err))
	}
}
