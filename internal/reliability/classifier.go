package reliability

import (
	"context"
	"errors"
	"net"
)

// IsRetryableHTTPStatus reports whether a failed request is worth sending
// again by hand. Nothing in the client resends automatically.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsTransientNetworkError classifies dial/read failures and timeouts that
// usually clear up on a manual resend.
func IsTransientNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
