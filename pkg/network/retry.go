package network

import "time"

const (
	retry    = 1 * time.Second
	retryMax = 30 * time.Second
)

// Retry is an exponential backoff counter.
type Retry struct {
	t    time.Duration
	fail bool
}

func NewRetry() Retry { return Retry{t: retry} }

// Fail returns the time to wait before the next attempt and doubles it.
func (r *Retry) Fail() time.Duration {
	t := r.t
	r.fail = true
	if r.t *= 2; r.t > retryMax {
		r.t = retryMax
	}
	return t
}

func (r *Retry) Success()            { r.t = retry; r.fail = false }
func (r *Retry) Failed() bool        { return r.fail }
func (r *Retry) Time() time.Duration { return r.t }
