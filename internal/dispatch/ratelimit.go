package dispatch

import "golang.org/x/time/rate"

// RateLimited wraps m so its check layer first consults a token
// bucket: on rejection the matcher behaves exactly as if its own
// check predicate had failed (not matched, not blocking), per §4.10's
// treatment of the matcher as a composable middleware stack (D3). The
// returned Matcher shares m's handlers and blocking flag but gets its
// own Check, so wrapping does not mutate m.
func RateLimited(m *Matcher, r rate.Limit, burst int) *Matcher {
	limiter := rate.NewLimiter(r, burst)
	inner := m.Check

	wrapped := &Matcher{
		Name:     m.Name,
		Blocking: m.Blocking,
		handlers: m.handlers,
	}
	wrapped.Check = func(ctx *Context) bool {
		if !limiter.Allow() {
			return false
		}
		if inner == nil {
			return true
		}
		return inner(ctx)
	}
	return wrapped
}
