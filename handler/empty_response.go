package handler

import "net/http"

type emptyResponse struct {
	status int
}

func (e emptyResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(e.status)
	return nil
}

// Empty responds with status and no body, for gateway acknowledgements and
// probes that expect a bare status.
func Empty(status int) Response {
	return emptyResponse{status: status}
}
