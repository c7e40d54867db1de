package dispatch

import (
	"context"
	"sync"
	"time"

	"fastlane/internal/store"
)

// Circuit breaker thresholds, grounded on the upstream executor's
// HostUnavailableError/NoAvailableHostsError test coverage: three
// consecutive failures in a five-minute window excludes a host for two
// minutes, doubling on repeated trips up to a thirty-minute ceiling.
const (
	failureThreshold = 3
	failureWindow    = 5 * time.Minute
	baseCooldown     = 2 * time.Minute
	maxCooldown      = 30 * time.Minute
)

// CircuitBreaker tracks per-host consecutive-failure streaks and excludes a
// host from selection while its circuit is open. State is persisted via
// HostStore so it survives process restarts and is shared across workers.
type CircuitBreaker struct {
	store store.HostStore

	mu        sync.Mutex
	lastTrip  map[string]time.Time
	cooldowns map[string]time.Duration
}

// NewCircuitBreaker builds a CircuitBreaker backed by the given HostStore.
func NewCircuitBreaker(hs store.HostStore) *CircuitBreaker {
	return &CircuitBreaker{
		store:     hs,
		lastTrip:  make(map[string]time.Time),
		cooldowns: make(map[string]time.Duration),
	}
}

// Available reports whether host may currently be selected: not
// administratively disabled, and not within an open circuit window.
func (b *CircuitBreaker) Available(ctx context.Context, host string) (bool, error) {
	hs, err := b.store.GetHostState(ctx, host)
	if err != nil {
		return false, err
	}
	if hs.Disabled {
		return false, nil
	}
	if hs.CircuitOpenUntil != nil && hs.CircuitOpenUntil.After(time.Now().UTC()) {
		return false, nil
	}
	return true, nil
}

// RecordFailure registers a HostUnavailableError-class failure against host.
// Once failureThreshold consecutive failures land within failureWindow, the
// circuit opens for a cooldown that doubles on each subsequent trip.
func (b *CircuitBreaker) RecordFailure(ctx context.Context, host string) error {
	hs, err := b.store.GetHostState(ctx, host)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	b.mu.Lock()
	last, seen := b.lastTrip[host]
	stale := !seen || now.Sub(last) > failureWindow
	b.lastTrip[host] = now
	b.mu.Unlock()

	if stale && hs.ConsecutiveFailures > 0 {
		// Clear the stored streak too, so RecordHostFailure's increment
		// starts again from zero instead of the out-of-window count.
		if err := b.store.RecordHostSuccess(ctx, host); err != nil {
			return err
		}
		hs.ConsecutiveFailures = 0
	}

	failures := hs.ConsecutiveFailures + 1

	var openUntil *time.Time
	if failures >= failureThreshold {
		cooldown := b.nextCooldown(host)
		until := now.Add(cooldown)
		openUntil = &until
	}

	return b.store.RecordHostFailure(ctx, host, openUntil)
}

func (b *CircuitBreaker) nextCooldown(host string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.cooldowns[host]
	if !ok || current == 0 {
		current = baseCooldown
	} else {
		current *= 2
		if current > maxCooldown {
			current = maxCooldown
		}
	}
	b.cooldowns[host] = current
	return current
}

// RecordSuccess clears a host's failure streak and cooldown escalation.
func (b *CircuitBreaker) RecordSuccess(ctx context.Context, host string) error {
	b.mu.Lock()
	delete(b.lastTrip, host)
	delete(b.cooldowns, host)
	b.mu.Unlock()

	return b.store.RecordHostSuccess(ctx, host)
}
