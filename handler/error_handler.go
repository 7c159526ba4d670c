package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/complykit/complykit/pkg/binder"
	"github.com/complykit/complykit/pkg/logger"
	"github.com/complykit/complykit/pkg/validator"
)

// Classifier maps a domain error to an HTTPError. It reports false for
// errors it does not recognise.
type Classifier func(err error) (HTTPError, bool)

// NewErrorHandler renders errors in the failure envelope. Classifiers run in
// order before the built-in rules; unknown errors become 500 and their text is
// never exposed. Client errors log at WARN and server errors at ERROR.
func NewErrorHandler(log *slog.Logger, classifiers ...Classifier) ErrorHandler {
	return func(ctx Context, err error) {
		httpErr := Classify(err, classifiers...)

		level := slog.LevelWarn
		if httpErr.Status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		r := ctx.Request()
		log.LogAttrs(r.Context(), level, "request failed",
			logger.Error(err),
			slog.Int("status_code", httpErr.Status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("http"),
		)

		if werr := WriteError(ctx.ResponseWriter(), httpErr); werr != nil {
			log.ErrorContext(r.Context(), "failed to write error response", logger.Error(werr))
		}
	}
}

// Classify resolves err to the HTTPError that will be rendered.
func Classify(err error, classifiers ...Classifier) HTTPError {
	for _, c := range classifiers {
		if httpErr, ok := c(err); ok {
			return httpErr
		}
	}

	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	if ve := validator.Extract(err); ve != nil {
		return HTTPError{
			Status:  http.StatusBadRequest,
			Code:    "validation_error",
			Message: "request validation failed",
			Details: ve,
			Err:     err,
		}
	}
	if binder.IsBindError(err) {
		return HTTPError{Status: http.StatusBadRequest, Code: "bad_request", Message: err.Error(), Err: err}
	}
	return ErrInternal
}

// WriteError writes httpErr in the failure envelope.
func WriteError(w http.ResponseWriter, httpErr HTTPError) error {
	msg := httpErr.Message
	if msg == "" {
		msg = http.StatusText(httpErr.Status)
	}
	return writeEnvelope(w, Envelope{
		Success: false,
		Error: &ErrorDetail{
			Code:    httpErr.Code,
			Message: msg,
			Details: httpErr.Details,
		},
		StatusCode: httpErr.Status,
	})
}
