package http

import "golang.org/x/time/rate"

// newHandshakeLimiter bounds how fast new websocket sessions are admitted.
// A non-positive rate disables the limit.
func newHandshakeLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func allowHandshake(l *rate.Limiter) bool {
	return l == nil || l.Allow()
}
