package summarize

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// APIError is a non-2xx response from the summarization backend. Keeping the
// status code lets Classify map outcomes without inspecting error strings.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("summarization backend returned status %d: %s", e.StatusCode, e.Body)
}

// Classify maps a summarization error to the user-facing message recorded on
// the failed job. This is the single point where backend errors become
// taxonomy; nothing downstream inspects error shapes.
func Classify(err error, timeout time.Duration) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("Request timed out: summarization backend did not respond within %d seconds", int(timeout.Seconds()))
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network timeout: unable to connect to summarization backend"
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return "Rate limit exceeded: too many requests to summarization backend"
		case http.StatusInternalServerError, http.StatusServiceUnavailable:
			return "Summarization backend service unavailable"
		case http.StatusUnauthorized:
			return "Invalid summarization API key"
		default:
			return fmt.Sprintf("Summarization request failed with status %d", apiErr.StatusCode)
		}
	}

	return err.Error()
}
