package logging

import (
	"context"
	"errors"
	"net"
	"strings"
)

// IsTransient reports whether err looks like something worth retrying:
// rate limiting, timeouts or a dropped connection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate_limit", "429", "connection refused", "connection reset", "broken pipe", "i/o timeout", "eof"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
