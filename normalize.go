package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"time"
)

// Normalize converts any failure value into a *NormalizedError. It never
// panics and returns nil only for a nil input. The context label, when
// non-empty, records where the failure was observed.
func Normalize(v any, context string) *NormalizedError {
	return normalizeAt(v, context, time.Now())
}

func normalizeAt(v any, label string, now time.Time) *NormalizedError {
	switch val := v.(type) {
	case nil:
		return nil
	case *NormalizedError:
		if val == nil {
			return nil
		}
		return val.withStamp(now, label)
	case string:
		ne := newErrorAt(KindGeneric, val, nil, now)
		ne.Context = label
		return ne
	case error:
		return normalizeError(val, label, now)
	default:
		ne := newErrorAt(KindGeneric, "", map[string]any{"originalError": fmt.Sprint(val)}, now)
		ne.Context = label
		return ne
	}
}

func normalizeError(err error, label string, now time.Time) *NormalizedError {
	var ne *NormalizedError
	if errors.As(err, &ne) && ne != nil {
		return ne.withStamp(now, label)
	}

	kind := classify(err)
	out := newErrorAt(kind, "", map[string]any{"originalError": err.Error()}, now)
	out.Context = label
	out.Cause = err
	return out
}

// classify derives a kind from a plain Go error. Typed checks run first and
// message heuristics cover errors that lost their type crossing a boundary.
func classify(err error) ErrorKind {
	// A deadline is a timeout even when it surfaces as a cancellation cause.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindAborted
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &opErr), errors.As(err, &dnsErr):
		return KindNetwork
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE), errors.Is(err, io.ErrUnexpectedEOF):
		return KindNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return KindTimeout
	case strings.Contains(msg, "aborted"), strings.Contains(msg, "canceled"), strings.Contains(msg, "cancelled"):
		return KindAborted
	case strings.Contains(msg, "network"), strings.Contains(msg, "connection"),
		strings.Contains(msg, "no such host"), strings.Contains(msg, "fetch"):
		return KindNetwork
	}
	return KindGeneric
}
