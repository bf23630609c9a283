// Package ratelimit provides per-source token-bucket rate limiting and
// concurrency caps for the worker pool, so one noisy Source cannot starve
// claimable RunSteps belonging to others.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines rate limiting and concurrency behaviour for one Source.
type Config struct {
	// Source is the batch source this config applies to (e.g. "s3",
	// "sharepoint"). Empty matches steps whose run has no batch.
	Source string

	// RateLimit is the maximum sustained steps per second that may start
	// execution for this source. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket limiter. Defaults
	// to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int

	// MaxConcurrency limits how many steps for this source may run
	// simultaneously across the local worker pool. Zero means no
	// source-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int
}

// sourceState tracks runtime state for a single source.
type sourceState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls per-source rate limiting and concurrency. It is safe
// for concurrent use.
type Manager struct {
	mu      sync.Mutex
	sources map[string]*sourceState
}

// NewManager creates a Manager with the given per-source configurations.
// Sources not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{sources: make(map[string]*sourceState, len(configs))}
	for _, cfg := range configs {
		m.sources[cfg.Source] = newSourceState(cfg)
	}
	return m
}

func newSourceState(cfg Config) *sourceState {
	ss := &sourceState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ss.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ss
}

// Acquire checks the rate limit and concurrency cap for source. If the
// step is allowed to proceed it increments the active counter and
// returns true. The caller MUST call Release once the step finishes.
// An unconfigured source always returns true.
func (m *Manager) Acquire(source string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ss := m.sources[source]
	if ss == nil {
		return true
	}
	if ss.limiter != nil && !ss.limiter.Allow() {
		return false
	}
	if ss.config.MaxConcurrency > 0 && ss.active >= ss.config.MaxConcurrency {
		return false
	}
	ss.active++
	return true
}

// Release decrements the active step count for source.
func (m *Manager) Release(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ss := m.sources[source]; ss != nil && ss.active > 0 {
		ss.active--
	}
}

// SetConfig dynamically updates (or creates) a source's configuration.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.sources[cfg.Source]
	ss := newSourceState(cfg)
	if existing != nil {
		ss.active = existing.active
	}
	m.sources[cfg.Source] = ss
}

// ActiveCount returns the current number of active steps for source.
func (m *Manager) ActiveCount(source string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ss := m.sources[source]; ss != nil {
		return ss.active
	}
	return 0
}
