package handler_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complykit/complykit/handler"
)

type echoRequest struct {
	ID     string `path:"id"`
	Limit  int    `query:"limit"`
	Key    string `header:"Idempotency-Key"`
	Name   string `json:"name"`
	Called []string
}

func TestWrap_BindsAllSources(t *testing.T) {
	t.Parallel()

	h := handler.Wrap(func(ctx handler.Context, req echoRequest) handler.Response {
		return handler.JSON(map[string]any{"id": req.ID, "limit": req.Limit, "key": req.Key, "name": req.Name})
	}, handler.WithBinders[echoRequest](handler.Defaults(chi.URLParam)...))

	r := chi.NewRouter()
	r.Post("/items/{id}", h)

	req := httptest.NewRequest(http.MethodPost, "/items/abc?limit=5", strings.NewReader(`{"name":"basic"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "k-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	env := decodeEnvelope(t, w)
	assert.Equal(t, map[string]any{"id": "abc", "limit": float64(5), "key": "k-1", "name": "basic"}, env.Data)
}

func TestWrap_BindErrorIsBadRequest(t *testing.T) {
	t.Parallel()

	called := false
	h := handler.Wrap(func(ctx handler.Context, req echoRequest) handler.Response {
		called = true
		return handler.JSON(nil)
	},
		handler.WithBinders[echoRequest](handler.Defaults(chi.URLParam)...),
		handler.WithErrorHandler[echoRequest](handler.NewErrorHandler(slog.New(slog.DiscardHandler))),
	)

	for _, tc := range []struct {
		name string
		req  *http.Request
	}{
		{"bad integer", httptest.NewRequest(http.MethodGet, "/?limit=many", nil)},
		{"unknown field", httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"nope":1}`))},
		{"trailing data", httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"} {}`))},
	} {
		w := httptest.NewRecorder()
		h(w, tc.req)
		assert.Equal(t, http.StatusBadRequest, w.Code, tc.name)
	}
	assert.False(t, called)
}

func TestWrap_DecoratorOrder(t *testing.T) {
	t.Parallel()

	trace := func(name string) handler.Decorator[echoRequest] {
		return func(next handler.HandlerFunc[echoRequest]) handler.HandlerFunc[echoRequest] {
			return func(ctx handler.Context, req echoRequest) handler.Response {
				req.Called = append(req.Called, name)
				return next(ctx, req)
			}
		}
	}

	h := handler.Wrap(func(ctx handler.Context, req echoRequest) handler.Response {
		return handler.JSON(req.Called)
	}, handler.WithDecorators(trace("outer"), trace("inner")))

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))

	env := decodeEnvelope(t, w)
	assert.Equal(t, []any{"outer", "inner"}, env.Data)
}

func TestWrap_NilResponse(t *testing.T) {
	t.Parallel()

	h := handler.Wrap(func(ctx handler.Context, _ struct{}) handler.Response {
		return nil
	}, handler.WithErrorHandler[struct{}](handler.NewErrorHandler(slog.New(slog.DiscardHandler))))

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestContext_CarriesRequestValues(t *testing.T) {
	t.Parallel()

	type key struct{}
	h := handler.Wrap(func(ctx handler.Context, _ struct{}) handler.Response {
		return handler.JSON(ctx.Value(key{}))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), key{}, "v"))
	w := httptest.NewRecorder()
	h(w, req)

	env := decodeEnvelope(t, w)
	assert.Equal(t, "v", env.Data)
}
