package handler

import (
	"fmt"
	"net/http"
)

// HTTPError is an error with a status code and a stable machine-readable code.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Details any
	Err     error
}

func (e HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

func (e HTTPError) Unwrap() error { return e.Err }

// NewHTTPError builds an HTTPError whose message defaults to the status text.
func NewHTTPError(status int, code string, err error) HTTPError {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	return HTTPError{Status: status, Code: code, Message: msg, Err: err}
}

var (
	ErrBadRequest   = HTTPError{Status: http.StatusBadRequest, Code: "bad_request", Message: "malformed request"}
	ErrUnauthorized = HTTPError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "authentication required"}
	ErrForbidden    = HTTPError{Status: http.StatusForbidden, Code: "forbidden", Message: "access denied"}
	ErrNotFound     = HTTPError{Status: http.StatusNotFound, Code: "not_found", Message: "resource not found"}
	ErrInternal     = HTTPError{Status: http.StatusInternalServerError, Code: "internal_error", Message: "internal server error"}
)
