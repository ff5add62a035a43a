package syncsdk

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/imroc/req/v3"
)

var (
	ErrNoServerURL        = errors.New("sdk: server url missing")
	ErrNoPeerID           = errors.New("sdk: peer id missing")
	ErrFileNotFound       = errors.New("sdk: file not found")
	ErrRegisterRejected   = errors.New("sdk: registration rejected")
	ErrEventsNotConnected = errors.New("sdk: events not connected")
)

const (
	CodeInvalidRequest     = "E_INVALID_REQUEST"
	CodeRateLimited        = "E_RATE_LIMITED"
	CodeInternalError      = "E_INTERNAL_ERROR"
	CodeStorageUnavailable = "E_STORAGE_UNAVAILABLE"
	CodeUnknownError       = "E_UNKNOWN_ERR"

	CodeFileNotFound    = "E_FILE_NOT_FOUND"
	CodeFileInvalidPath = "E_FILE_INVALID_PATH"
	CodeFileTooLarge    = "E_FILE_TOO_LARGE"
)

// APIError is the coordinator's {code, error} error body.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// StorageUnavailable reports whether the coordinator refused the call
// because its metadata store is down.
func (e *APIError) StorageUnavailable() bool {
	return e.Code == CodeStorageUnavailable
}

func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	// an error body that fails to decode surfaces as requestErr too
	if resp != nil && resp.Response != nil && resp.IsErrorState() {
		if apiErr, ok := resp.ErrorResult().(*APIError); ok && apiErr.Code != "" {
			apiErr.Status = resp.GetStatusCode()
			if apiErr.Code == CodeFileNotFound {
				return fmt.Errorf("%s %w: %w", operation, ErrFileNotFound, apiErr)
			}
			return fmt.Errorf("%s %w", operation, apiErr)
		}
		return fmt.Errorf("%s %w", operation, statusError(resp.GetStatusCode(), resp.String()))
	}

	if requestErr != nil {
		return fmt.Errorf("http request error: %s %w", operation, requestErr)
	}
	return nil
}

func statusError(status int, body string) *APIError {
	code := CodeUnknownError
	switch {
	case status == http.StatusTooManyRequests:
		code = CodeRateLimited
	case status == http.StatusServiceUnavailable:
		code = CodeStorageUnavailable
	case status >= http.StatusInternalServerError:
		code = CodeInternalError
	case status == http.StatusBadRequest:
		code = CodeInvalidRequest
	}
	return &APIError{Code: code, Message: body, Status: status}
}
