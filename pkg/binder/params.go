package binder

import (
	"net/http"
	"net/textproto"
)

// Query binds URL query parameters to fields tagged `query:"name"`.
func Query() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		return bindToStruct(v, "query", func(name string) []string {
			return r.URL.Query()[name]
		}, ErrInvalidQuery)
	}
}

// Path binds router path parameters to fields tagged `path:"name"`.
// extractor is usually chi.URLParam.
func Path(extractor func(r *http.Request, name string) string) func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		return bindToStruct(v, "path", func(name string) []string {
			if val := extractor(r, name); val != "" {
				return []string{val}
			}
			return nil
		}, ErrInvalidPath)
	}
}

// Header binds request headers to fields tagged `header:"Name"`.
func Header() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		return bindToStruct(v, "header", func(name string) []string {
			return r.Header[textproto.CanonicalMIMEHeaderKey(name)]
		}, ErrInvalidHeader)
	}
}
