package devserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// envelope is one procedure answer on the wire: exactly one of Result and Error is set.
type envelope struct {
	Result *resultBody `json:"result,omitempty"`
	Error  *errorBody  `json:"error,omitempty"`
}

type resultBody struct {
	Data any `json:"data"`
}

type errorBody struct {
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Data    errorData `json:"data"`
}

type errorData struct {
	Code       string `json:"code"`
	HTTPStatus int    `json:"httpStatus"`
	Path       string `json:"path,omitempty"`
}

func resultEnvelope(data any) envelope {
	return envelope{Result: &resultBody{Data: data}}
}

func errorEnvelope(code errorCode, message, path string) envelope {
	return envelope{Error: &errorBody{
		Message: message,
		Code:    code.rpcCode(),
		Data: errorData{
			Code:       string(code),
			HTTPStatus: code.httpStatus(),
			Path:       path,
		},
	}}
}

// writeJSON writes a JSON response with the given status code.
// Logs encoding failures internally using the provided context.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	// Headers and status are written before encoding to avoid buffering.
	// If encoding fails, the client may receive a partial response.
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}
