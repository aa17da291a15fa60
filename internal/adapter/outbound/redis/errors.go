package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Sentinel-Gate/admitgate/internal/domain/ratelimit"
)

// IsConnectionError reports whether err means the server could not be
// reached, as opposed to a failed command on a live connection.
//
// Read and write timeouts on an established connection and pool timeouts
// are operation errors: the server is reachable but slow or saturated, and
// the next command may succeed.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ratelimit.ErrStoreUnavailable) ||
		errors.Is(err, goredis.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	// The caller gave up or the pool is exhausted; the server may be fine.
	if errors.Is(err, context.Canceled) || errors.Is(err, goredis.ErrPoolTimeout) {
		return false
	}

	// Checked before DeadlineExceeded: dial timeouts match it too.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return true
		}
		return !opErr.Timeout()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// wrapErr annotates err with the operation. Connection failures are also
// marked with ratelimit.ErrStoreUnavailable.
func wrapErr(op string, err error) error {
	if IsConnectionError(err) && !errors.Is(err, ratelimit.ErrStoreUnavailable) {
		return fmt.Errorf("counter store %s: %w: %w", op, ratelimit.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("counter store %s: %w", op, err)
}
