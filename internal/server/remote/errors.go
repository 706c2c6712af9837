package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/dkaspars/attachsync/internal/common"
)

// ClassifyStatus maps a tracker HTTP status code onto the shared taxonomy.
func ClassifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return common.ErrAuth
	case status == http.StatusNotFound:
		return common.ErrNotFound
	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		return common.ErrConflict
	case status == http.StatusTooManyRequests:
		return common.ErrRateLimit
	case status >= 400 && status < 500:
		return common.ErrValidation
	default:
		return common.ErrTransientNetwork
	}
}

// ClassifyTransport wraps a transport-level error. Timeouts and connection
// failures are always transient network errors, never left unresolved.
func ClassifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timed out: %w", common.ErrTransientNetwork)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("request timed out: %w", common.ErrTransientNetwork)
	}
	return fmt.Errorf("%v: %w", err, common.ErrTransientNetwork)
}
