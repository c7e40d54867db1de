// Package dispatch assigns a Job to a host: it parses the pool
// configuration, picks the least-loaded enabled host in the matching pool,
// and guards hosts with a circuit breaker so a dead host does not keep
// losing the least-running-count race forever.
package dispatch

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// PoolConfig is one entry of the DOCKER_HOSTS pool configuration: a regex
// matched against a Job's TaskID, the hosts that satisfy it, and the pool's
// aggregate concurrency ceiling.
type PoolConfig struct {
	Match      *regexp.Regexp
	Hosts      []string
	MaxRunning int
}

type poolConfigJSON struct {
	Match      string   `json:"match"`
	Hosts      []string `json:"hosts"`
	MaxRunning int      `json:"max_running"`
}

// ParsePools decodes the DOCKER_HOSTS JSON array into a list of PoolConfig,
// in the order given — first-match wins, so order matters.
func ParsePools(raw []byte) ([]PoolConfig, error) {
	var entries []poolConfigJSON
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("dispatch: parse DOCKER_HOSTS: %w", err)
	}

	pools := make([]PoolConfig, 0, len(entries))
	for _, e := range entries {
		re, err := regexp.Compile(e.Match)
		if err != nil {
			return nil, fmt.Errorf("dispatch: invalid match pattern %q: %w", e.Match, err)
		}
		pools = append(pools, PoolConfig{Match: re, Hosts: e.Hosts, MaxRunning: e.MaxRunning})
	}
	return pools, nil
}

// SelectPool returns the first pool whose Match matches taskID, skipping
// entries whose pattern is "" or ".*"; those are default pools, and the last
// of them is returned when no other entry matches. ok is false if nothing
// matches and there is no default pool.
func SelectPool(pools []PoolConfig, taskID string) (PoolConfig, bool) {
	var defaultPool PoolConfig
	haveDefault := false

	for _, p := range pools {
		if p.Match.String() == "" || p.Match.String() == ".*" {
			defaultPool = p
			haveDefault = true
			continue
		}
		if p.Match.MatchString(taskID) {
			return p, true
		}
	}
	return defaultPool, haveDefault
}
