package pipeline

import "sync/atomic"

// Canceller is anything that can ask a run to stop.
type Canceller interface {
	Cancel()
}

// CancelToken is a shared stop flag. It may be set from any goroutine; the
// runner only reads it.
type CancelToken struct {
	flag atomic.Bool
}

// NewCancelToken returns an unset token.
func NewCancelToken() *CancelToken { return &CancelToken{} }

// Cancel sets the token. Further calls do nothing.
func (t *CancelToken) Cancel() { t.flag.Store(true) }

// Cancelled reports whether Cancel has been called. A nil token is never
// cancelled.
func (t *CancelToken) Cancelled() bool {
	return t != nil && t.flag.Load()
}
