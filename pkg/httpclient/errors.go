package httpclient

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// maxErrorBody bounds how much of a failed response is kept for diagnostics.
const maxErrorBody = 1 << 20

// remoteErrorBody covers the two error shapes commonly returned by JSON APIs:
// {"error":{"code":..,"message":..}} and {"message":..}.
type remoteErrorBody struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// IsSuccess reports whether status is 2xx.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}

// CheckResponse returns nil for 2xx responses. For anything else it consumes
// and closes the body and returns a NetworkError for op carrying the status
// and the most useful message found in the body.
func CheckResponse(resp *http.Response, op string) error {
	if IsSuccess(resp.StatusCode) {
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return apperrors.Network(op, resp.StatusCode, err)
	}

	if msg := remoteMessage(bodyBytes); msg != "" {
		return apperrors.Network(op, resp.StatusCode, errors.New(msg))
	}
	return apperrors.Network(op, resp.StatusCode, nil)
}

// AsNetworkError converts a transport-level failure (including an open
// circuit or a 5xx rejected by the breaker) into a NetworkError for op.
func AsNetworkError(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsNetwork(err) {
		return err
	}
	var srvErr *ServerError
	if errors.As(err, &srvErr) {
		return apperrors.Network(op, srvErr.StatusCode, err)
	}
	return apperrors.Network(op, 0, err)
}

func remoteMessage(body []byte) string {
	var parsed remoteErrorBody
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Error != nil && parsed.Error.Message != "" {
			if parsed.Error.Code != "" {
				return parsed.Error.Code + ": " + parsed.Error.Message
			}
			return parsed.Error.Message
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return strings.TrimSpace(string(body))
}
