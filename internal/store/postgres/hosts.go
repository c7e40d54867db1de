package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"fastlane/internal/store"
)

// GetHostState returns a host's circuit-breaker bookkeeping, defaulting to
// a healthy, enabled state if the host has never recorded a failure.
func (s *Store) GetHostState(ctx context.Context, host string) (store.HostState, error) {
	var hs store.HostState
	err := s.db.QueryRowContext(ctx, `
		SELECT host, disabled, consecutive_failures, circuit_open_until
		FROM host_state WHERE host = $1
	`, host).Scan(&hs.Host, &hs.Disabled, &hs.ConsecutiveFailures, &hs.CircuitOpenUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.HostState{Host: host}, nil
		}
		return store.HostState{}, err
	}
	return hs, nil
}

// RecordHostFailure bumps the consecutive failure counter and sets the
// circuit-open deadline computed by the dispatcher's breaker policy.
func (s *Store) RecordHostFailure(ctx context.Context, host string, openUntil *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO host_state (host, consecutive_failures, circuit_open_until)
		VALUES ($1, 1, $2)
		ON CONFLICT (host) DO UPDATE SET
			consecutive_failures = host_state.consecutive_failures + 1,
			circuit_open_until = $2
	`, host, openUntil)
	return err
}

// RecordHostSuccess clears a host's failure streak and any open circuit.
func (s *Store) RecordHostSuccess(ctx context.Context, host string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO host_state (host, consecutive_failures, circuit_open_until)
		VALUES ($1, 0, NULL)
		ON CONFLICT (host) DO UPDATE SET consecutive_failures = 0, circuit_open_until = NULL
	`, host)
	return err
}

func (s *Store) SetHostDisabled(ctx context.Context, host string, disabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO host_state (host, disabled) VALUES ($1, $2)
		ON CONFLICT (host) DO UPDATE SET disabled = $2
	`, host, disabled)
	return err
}
