package handler

import (
	"encoding/json"
	"net/http"
	"time"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Success    bool         `json:"success"`
	Data       any          `json:"data,omitempty"`
	Error      *ErrorDetail `json:"error,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
	StatusCode int          `json:"statusCode"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type jsonResponse struct {
	status int
	data   any
}

func (j jsonResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	return writeEnvelope(w, Envelope{
		Success:    true,
		Data:       j.data,
		StatusCode: j.status,
	})
}

// JSON responds 200 with data in the success envelope.
func JSON(data any) Response {
	return jsonResponse{status: http.StatusOK, data: data}
}

// Created responds 201 with data in the success envelope.
func Created(data any) Response {
	return jsonResponse{status: http.StatusCreated, data: data}
}

// JSONWithStatus responds with an arbitrary 2xx status.
func JSONWithStatus(status int, data any) Response {
	return jsonResponse{status: status, data: data}
}

type errorResponse struct {
	err error
}

// Render hands the error back to Wrap so the configured ErrorHandler
// classifies and logs it.
func (e errorResponse) Render(http.ResponseWriter, *http.Request) error {
	return e.err
}

// Error defers rendering of err to the ErrorHandler.
func Error(err error) Response {
	return errorResponse{err: err}
}

func writeEnvelope(w http.ResponseWriter, env Envelope) error {
	env.Timestamp = time.Now().UTC()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(env.StatusCode)
	return json.NewEncoder(w).Encode(env)
}
