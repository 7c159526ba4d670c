package handler_test

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complykit/complykit/handler"
	"github.com/complykit/complykit/pkg/binder"
	"github.com/complykit/complykit/pkg/validator"
)

var errGone = errors.New("gone")

func goneClassifier(err error) (handler.HTTPError, bool) {
	if errors.Is(err, errGone) {
		return handler.HTTPError{Status: http.StatusGone, Code: "gone", Message: "resource is gone", Err: err}, true
	}
	return handler.HTTPError{}, false
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"classifier wins", fmt.Errorf("load: %w", errGone), http.StatusGone, "gone"},
		{"http error", handler.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"wrapped http error", fmt.Errorf("x: %w", handler.ErrNotFound), http.StatusNotFound, "not_found"},
		{"validation", validator.Apply(validator.Required("name", "")), http.StatusBadRequest, "validation_error"},
		{"bind", fmt.Errorf("%w: boom", binder.ErrInvalidJSON), http.StatusBadRequest, "bad_request"},
		{"unknown", errors.New("database exploded"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := handler.Classify(tt.err, goneClassifier)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.code, got.Code)
		})
	}
}

func TestErrorHandler_HidesInternalErrors(t *testing.T) {
	t.Parallel()

	h := handler.Wrap(func(ctx handler.Context, _ struct{}) handler.Response {
		return handler.Error(errors.New("pq: password authentication failed"))
	}, handler.WithErrorHandler[struct{}](handler.NewErrorHandler(slog.New(slog.DiscardHandler))))

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	env := decodeEnvelope(t, w)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "internal_error", env.Error.Code)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestErrorHandler_ValidationDetails(t *testing.T) {
	t.Parallel()

	h := handler.Wrap(func(ctx handler.Context, _ struct{}) handler.Response {
		return handler.Error(validator.Apply(validator.Required("package_id", "")))
	}, handler.WithErrorHandler[struct{}](handler.NewErrorHandler(slog.New(slog.DiscardHandler))))

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "validation_error", env.Error.Code)
	assert.Contains(t, w.Body.String(), `"package_id"`)
}
