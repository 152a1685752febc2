package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/calebmills99/guardrV6/internal/apperror"
)

// errorBody is the JSON error envelope shared by every rejection.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WriteError writes {"error":{"code":...,"message":...}} with status.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeErrorBody(w, status, errorDetail{Code: code, Message: message})
}

// WriteAppError maps err to its status and client-safe code and message.
func WriteAppError(w http.ResponseWriter, err error) {
	code, message := apperror.Public(err)
	WriteError(w, apperror.HTTPStatus(apperror.KindOf(err)), code, message)
}

func writeErrorBody(w http.ResponseWriter, status int, detail errorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: detail})
}

// writeUnauthorized uses one message for every authentication failure.
func writeUnauthorized(w http.ResponseWriter) {
	WriteAppError(w, apperror.ErrUnauthorized)
}
