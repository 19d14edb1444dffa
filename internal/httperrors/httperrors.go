package httperrors

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type HttpError struct {
	statusCode  int
	userMessage string
	err         error
	body        any
}

func New(statusCode int, userMessage string, internalError error) HttpError {
	return HttpError{
		statusCode:  statusCode,
		userMessage: userMessage,
		err:         internalError,
	}
}

// WithBody replaces the default {"error": message} body.
func (e HttpError) WithBody(body any) HttpError {
	e.body = body
	return e
}

func (e HttpError) Error() string {
	if e.err == nil {
		return e.userMessage
	}
	return e.err.Error()
}

func (e HttpError) Unwrap() error {
	return e.err
}

func (e HttpError) StatusCode() int {
	return e.statusCode
}

func (e HttpError) WriteError(w http.ResponseWriter) error {
	body := e.body
	if body == nil {
		body = map[string]string{"error": e.userMessage}
	}
	return WriteJSON(w, e.statusCode, body)
}

func WriteJSON(w http.ResponseWriter, statusCode int, body any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(body)
}
