package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/fruitsalade/filemanager/internal/metrics"
)

// Throttle delays every state-changing request by a constant amount. There
// is no backoff and no lockout.
type Throttle struct {
	Delay time.Duration
}

// Wait blocks for the configured delay or until ctx is done.
func (t Throttle) Wait(ctx context.Context) error {
	if t.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(t.Delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		metrics.RecordThrottle(t.Delay)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Middleware applies Wait to POST requests. A request whose context ends
// while waiting is dropped without reaching next.
func (t Throttle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if err := t.Wait(r.Context()); err != nil {
				http.Error(w, "request cancelled", http.StatusServiceUnavailable)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
