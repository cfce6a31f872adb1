package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 1 << 20

// ResponseError is a non-2xx response whose body has been consumed.
type ResponseError struct {
	StatusCode int
	// Message is the "message" field of a JSON error body, if there was one.
	Message string
	Body    []byte
}

func (e *ResponseError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// ParseResponseError reads and closes the body of a non-2xx response. Bodies
// of the form {"message": "..."} have their message extracted.
func ParseResponseError(resp *http.Response) *ResponseError {
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	rerr := &ResponseError{StatusCode: resp.StatusCode, Body: body}

	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		rerr.Message = payload.Message
	}
	return rerr
}

// IsClientError reports whether status is a 4xx.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
