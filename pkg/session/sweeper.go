package session

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rockbite/localforge/internal/observability"
)

// StartSweeper schedules the TTL eviction sweep.
func (m *Manager) StartSweeper() error {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	if m.sweeper != nil {
		return fmt.Errorf("session sweeper is already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(m.schedule, func() { m.Sweep() }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", m.schedule, err)
	}
	c.Start()
	m.sweeper = c

	m.logger.Info().
		Dur("ttl", m.ttl).
		Str("schedule", m.schedule).
		Msg("Session sweeper started")
	return nil
}

// StopSweeper stops the sweep and waits for a running pass to finish.
func (m *Manager) StopSweeper() {
	m.sweepMu.Lock()
	c := m.sweeper
	m.sweeper = nil
	m.sweepMu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	m.logger.Info().Msg("Session sweeper stopped")
}

// Sweep evicts sessions idle for longer than the TTL and returns how many
// were evicted. Sessions that are busy or have a write in flight are kept;
// expired sessions with unsaved changes are flushed and evicted on a later
// pass. Eviction only drops the cache entry.
func (m *Manager) Sweep() int {
	now := m.now()
	var flush []string
	evicted := 0

	m.mu.Lock()
	for id, e := range m.entries {
		e.mu.Lock()
		expired := now.Sub(e.lastAccess) > m.ttl
		busy := e.saving != nil || e.next != nil || e.session.AgentState.Status != StatusIdle
		dirty := !e.ephemeral && e.gen != e.savedGen
		e.mu.Unlock()

		switch {
		case !expired || busy:
		case dirty:
			flush = append(flush, id)
		default:
			delete(m.entries, id)
			evicted++
		}
	}
	cachedCount := len(m.entries)
	m.mu.Unlock()

	if len(flush) > 0 {
		go m.flushExpired(flush)
	}

	if evicted > 0 {
		observability.RecordSessionEvictions(evicted)
		observability.SetCachedSessions(cachedCount)
		m.logger.Debug().Int("evicted", evicted).Int("cached", cachedCount).Msg("Session sweep evicted idle sessions")
	}
	return evicted
}

// flushExpired writes expired sessions one at a time so a sweep never
// fans out into a burst of store writes.
func (m *Manager) flushExpired(ids []string) {
	for _, id := range ids {
		if err := m.SaveSession(context.Background(), id); err != nil {
			m.logger.Warn().Err(err).Str("sessionId", id).Msg("Failed to flush expired session")
		}
	}
}
