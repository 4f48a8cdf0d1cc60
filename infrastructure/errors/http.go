// Package errors provides error types shared by partprice's outbound and inbound HTTP layers.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// MinErrorStatusCode is the minimum HTTP status code considered an error
	MinErrorStatusCode = 400

	maxErrorBody = 4 << 10
)

// HTTPError represents a non-2xx response from an external source.
type HTTPError struct {
	StatusCode int
	Status     string
	Message    string
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP error (%s): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP error: %s", e.Status)
}

// Transient reports whether the status is worth retrying: 408 or any 5xx.
func (e *HTTPError) Transient() bool {
	return e.StatusCode == http.StatusRequestTimeout || e.StatusCode >= http.StatusInternalServerError
}

// ParseHTTPError returns nil for successful responses and an *HTTPError otherwise.
// At most 4KiB of the body is read to extract a message.
func ParseHTTPError(resp *http.Response) error {
	if resp.StatusCode < MinErrorStatusCode {
		return nil
	}

	httpErr := &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	if httpErr.Status == "" {
		httpErr.Status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return httpErr
	}

	var jsonErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &jsonErr) == nil && (jsonErr.Error != "" || jsonErr.Message != "") {
		httpErr.Message = jsonErr.Message
		if jsonErr.Error != "" {
			httpErr.Message = jsonErr.Error
		}
		return httpErr
	}

	httpErr.Message = strings.TrimSpace(string(body))
	return httpErr
}

// GetHTTPStatusCode extracts the HTTP status code from anywhere in err's chain.
func GetHTTPStatusCode(err error) (int, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode, true
	}
	return 0, false
}
