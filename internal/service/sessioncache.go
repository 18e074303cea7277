package service

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/screwyforcepush/claude-comms-sub001/internal/config"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/agent"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/message"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/session"
	"github.com/screwyforcepush/claude-comms-sub001/internal/port/cache"
	"github.com/screwyforcepush/claude-comms-sub001/internal/port/store"
)

// SessionCache derives and caches per-session summaries. Entries live
// under a TTL and an exact LRU cap; sessions idle past the freshness
// threshold keep only their aggregate fields until detail is requested
// again. The cache owns its map exclusively; all mutation goes through
// these methods.
type SessionCache struct {
	store     store.Store
	snapshots cache.Cache

	mu      sync.Mutex
	entries map[string]*cacheEntry
	lru     *list.List // front = most recently accessed

	maxSessions int
	ttl         time.Duration
	freshness   time.Duration

	group singleflight.Group
	now   func() time.Time

	hits, misses, evictions int64
}

type cacheEntry struct {
	summary    *session.Summary
	computedAt time.Time
	elem       *list.Element
}

// NewSessionCache creates a SessionCache. snapshots may be nil, in which
// case timeline snapshot caching is disabled.
func NewSessionCache(st store.Store, snapshots cache.Cache, cfg config.Cache) *SessionCache {
	return &SessionCache{
		store:       st,
		snapshots:   snapshots,
		entries:     make(map[string]*cacheEntry),
		lru:         list.New(),
		maxSessions: cfg.MaxSessions,
		ttl:         cfg.TTL,
		freshness:   cfg.FreshnessThreshold,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCompute returns the session's summary. A fresh cache hit returns
// immediately; a miss (or a downgraded entry when detail is needed)
// triggers a scoped recompute from the store, collapsed across concurrent
// callers per session.
func (c *SessionCache) GetOrCompute(ctx context.Context, sessionID string, needDetail bool) (*session.Summary, error) {
	c.mu.Lock()
	if e, ok := c.entries[sessionID]; ok && c.now().Sub(e.computedAt) < c.ttl {
		if !needDetail || e.summary.HasDetail {
			c.lru.MoveToFront(e.elem)
			c.hits++
			s := e.summary
			c.mu.Unlock()
			return s, nil
		}
	}
	c.misses++
	c.mu.Unlock()

	v, err, _ := c.group.Do(sessionID, func() (any, error) {
		s, err := c.compute(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		c.insert(sessionID, s)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Summary), nil
}

// Invalidate drops the session's cache entry and its timeline snapshot.
// Called on every store mutation touching the session; entries are never
// stale beyond the TTL.
func (c *SessionCache) Invalidate(ctx context.Context, sessionID string) {
	c.mu.Lock()
	if e, ok := c.entries[sessionID]; ok {
		c.lru.Remove(e.elem)
		delete(c.entries, sessionID)
	}
	c.mu.Unlock()

	if c.snapshots != nil {
		_ = c.snapshots.Delete(ctx, snapshotKey(sessionID))
	}
}

// DowngradeIdle drops the detail arrays of every cached session whose last
// activity is older than the freshness threshold, bounding memory for
// long-idle sessions. Full detail is recomputed on demand.
func (c *SessionCache) DowngradeIdle() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.freshness)
	downgraded := 0
	for _, e := range c.entries {
		if e.summary.HasDetail && e.summary.LastActivity.Before(cutoff) {
			e.summary = e.summary.DropDetail()
			downgraded++
		}
	}
	return downgraded
}

// Len returns the number of cached sessions.
func (c *SessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cumulative hit/miss/eviction counters.
func (c *SessionCache) Stats() (hits, misses, evictions int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}

// insert stores a freshly computed summary, evicting the least-recently
// accessed session once the hard cap is exceeded.
func (c *SessionCache) insert(sessionID string, s *session.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[sessionID]; ok {
		e.summary = s
		e.computedAt = c.now()
		c.lru.MoveToFront(e.elem)
		return
	}

	e := &cacheEntry{summary: s, computedAt: c.now()}
	e.elem = c.lru.PushFront(sessionID)
	c.entries[sessionID] = e

	for len(c.entries) > c.maxSessions {
		back := c.lru.Back()
		if back == nil {
			break
		}
		victim := back.Value.(string)
		c.lru.Remove(back)
		delete(c.entries, victim)
		c.evictions++
	}
}

// compute derives the summary from scoped store queries.
func (c *SessionCache) compute(ctx context.Context, sessionID string) (*session.Summary, error) {
	agents, err := c.store.AgentsBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s agents: %w", sessionID, err)
	}
	events, err := c.store.EventsBySession(ctx, sessionID, nil)
	if err != nil {
		return nil, fmt.Errorf("session %s events: %w", sessionID, err)
	}
	msgs, err := c.sessionMessages(ctx, agents)
	if err != nil {
		return nil, fmt.Errorf("session %s messages: %w", sessionID, err)
	}

	var first, last time.Time
	for i := range events {
		ts := events[i].Timestamp
		if first.IsZero() || ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}

	return session.Derive(sessionID, agents, msgs, len(events), first, last), nil
}

// sessionMessages filters the message log down to the session's agent
// names. Messages carry no session id of their own; sender is the join
// key.
func (c *SessionCache) sessionMessages(ctx context.Context, agents []agent.Record) ([]message.Message, error) {
	if len(agents) == 0 {
		return nil, nil
	}
	names := make(map[string]struct{}, len(agents))
	for i := range agents {
		names[agents[i].Name] = struct{}{}
	}

	all, err := c.store.AllMessages(ctx)
	if err != nil {
		return nil, err
	}
	var msgs []message.Message
	for i := range all {
		if _, ok := names[all[i].Sender]; ok {
			msgs = append(msgs, all[i])
		}
	}
	return msgs, nil
}

func snapshotKey(sessionID string) string {
	return "timeline|" + sessionID
}
