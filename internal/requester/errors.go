package requester

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// StatusError is returned for responses outside the 2xx range. Message
// and DocumentationURL are filled from GitHub's JSON error body when
// present.
type StatusError struct {
	Method           string
	URL              string
	StatusCode       int
	Message          string
	DocumentationURL string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
}

func parseStatusError(method, url string, status int, body []byte) *StatusError {
	var apiErr struct {
		Message          string `json:"message"`
		DocumentationURL string `json:"documentation_url"`
	}
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return &StatusError{
		Method:           method,
		URL:              url,
		StatusCode:       status,
		Message:          apiErr.Message,
		DocumentationURL: apiErr.DocumentationURL,
	}
}

// StatusCode returns the HTTP status carried by err, or 0 if err is not
// a *StatusError.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// IsUnauthorized reports whether err is a 401 response.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}
