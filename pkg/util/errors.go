package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kernel/kernel-go-sdk"
)

// CleanedUpSdkError shortens Kernel API errors to the status and the API's
// message instead of the full request dump.
type CleanedUpSdkError struct {
	Err error
}

func (e CleanedUpSdkError) Error() string {
	var apiErr *kernel.Error
	if !errors.As(e.Err, &apiErr) {
		return e.Err.Error()
	}
	status := fmt.Sprintf("%d %s", apiErr.StatusCode, http.StatusText(apiErr.StatusCode))
	if msg := apiMessage(apiErr.RawJSON()); msg != "" {
		return status + ": " + msg
	}
	return status
}

func (e CleanedUpSdkError) Unwrap() error {
	return e.Err
}

func apiMessage(raw string) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return ""
	}
	if msg := strings.TrimSpace(body.Message); msg != "" {
		return msg
	}
	return strings.TrimSpace(body.Error)
}

// IsNotFound reports whether err is a Kernel API 404.
func IsNotFound(err error) bool {
	var apiErr *kernel.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
