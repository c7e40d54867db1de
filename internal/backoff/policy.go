// Package backoff implements the three distinct exponential back-off
// policies the core needs: monitor polling, retry-on-failure, and
// pool-saturation requeueing. They are kept as separate Policy values with
// their own constants because they govern unrelated decisions and tuning
// one must never silently tune the others.
package backoff

import "time"

// Policy computes delay = min(base * 2^n, max) for an attempt count n.
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the back-off delay for the given attempt/poll count
// (0-indexed: Delay(0) == Base, capped at Max).
func (p Policy) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := p.Base
	// Cap the shift to avoid overflow for pathologically large n; by then
	// we're already saturated at Max anyway.
	if n > 62 {
		n = 62
	}
	d = d << uint(n)
	if d <= 0 || d > p.Max {
		return p.Max
	}
	return d
}

// MonitorPoll is the Monitor's re-poll back-off while an Execution is still
// running: base 1s, cap 30s.
var MonitorPoll = Policy{Base: 1 * time.Second, Max: 30 * time.Second}

// RetryOnFailure is the delay before a new Execution attempt is enqueued
// after a failed/timed-out one: base 5s, cap 10m.
var RetryOnFailure = Policy{Base: 5 * time.Second, Max: 10 * time.Minute}

// PoolSaturated is the delay before a Job is re-offered to the Dispatcher
// after its pool was at MaxRunning: base 2s, cap 1m.
var PoolSaturated = Policy{Base: 2 * time.Second, Max: 1 * time.Minute}
