package txeventq

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
)

// APIError is a non-2xx response from the REST proxy
type APIError struct {
	Op         string
	StatusCode int
	Body       string
	// Code is the upstream error code: the JSON error_code/code field or the
	// first ORA-NNNNN token of the body.
	Code string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: HTTP %d (%s): %s", e.Op, e.StatusCode, e.Code, e.Body)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// conflictCodes are the upstream codes meaning the resource already exists.
var conflictCodes = map[string]bool{
	"ORA-24001": true, // queue table already exists
	"ORA-24006": true, // queue already exists
	"ORA-24034": true, // already a subscriber
	"40901":     true,
	"40902":     true,
	"40903":     true,
}

var oraCode = regexp.MustCompile(`ORA-\d{5}`)

// IsConflict reports whether err is an "already exists" response
func IsConflict(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusConflict:
		return true
	case http.StatusBadRequest:
		return conflictCodes[apiErr.Code]
	}
	return false
}

// StatusCode returns the HTTP status of an upstream error, or 0
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func extractCode(body []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err == nil {
		for _, key := range []string{"error_code", "errorCode", "code"} {
			switch v := fields[key].(type) {
			case string:
				if v != "" {
					return v
				}
			case float64:
				return strconv.FormatInt(int64(v), 10)
			}
		}
	}
	return oraCode.FindString(string(body))
}
