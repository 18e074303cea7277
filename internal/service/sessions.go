package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/screwyforcepush/claude-comms-sub001/internal/config"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/session"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/timeline"
	"github.com/screwyforcepush/claude-comms-sub001/internal/port/cache"
	"github.com/screwyforcepush/claude-comms-sub001/internal/port/store"
)

// SessionService answers session aggregation queries and builds renderable
// timelines via the pure transformer.
type SessionService struct {
	store     store.Store
	cache     *SessionCache
	snapshots cache.Cache
	opts      timeline.Options
	now       func() time.Time
}

// NewSessionService creates a SessionService. snapshots may be nil.
func NewSessionService(st store.Store, sc *SessionCache, snapshots cache.Cache, streamCfg config.Stream) *SessionService {
	return &SessionService{
		store:     st,
		cache:     sc,
		snapshots: snapshots,
		opts:      timeline.Options{ClusterWindow: streamCfg.ClusterWindow},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Window returns summaries for sessions whose activity overlaps the query
// window, most recent first.
func (s *SessionService) Window(ctx context.Context, q session.WindowQuery) ([]*session.Summary, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.End.IsZero() {
		q.End = s.now()
	}
	bounds, err := s.store.SessionsInWindow(ctx, q.Start, q.End, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("window query: %w", err)
	}
	return s.summaries(ctx, boundIDs(bounds), false)
}

// Batch returns detailed summaries for an explicit list of session ids.
// Unknown ids are skipped.
func (s *SessionService) Batch(ctx context.Context, sessionIDs []string) ([]*session.Summary, error) {
	if len(sessionIDs) == 0 {
		return nil, domain.Validation("sessionIds is required")
	}
	bounds, err := s.store.SessionBounds(ctx, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("batch query: %w", err)
	}
	return s.summaries(ctx, boundIDs(bounds), true)
}

// Compare returns detailed summaries for side-by-side comparison.
func (s *SessionService) Compare(ctx context.Context, sessionIDs []string) (*session.Comparison, error) {
	sums, err := s.Batch(ctx, sessionIDs)
	if err != nil {
		return nil, err
	}
	return &session.Comparison{Sessions: sums}, nil
}

// Timeline builds the renderable timeline for one session. Full-window
// timelines of settled sessions are served from the snapshot cache; a
// session with any open agent is recomputed every call so open intervals
// track "now".
func (s *SessionService) Timeline(ctx context.Context, sessionID string, window timeline.Window) (*timeline.TimelineData, error) {
	cacheable := window == (timeline.Window{}) && s.snapshots != nil

	if cacheable {
		if raw, ok, err := s.snapshots.Get(ctx, snapshotKey(sessionID)); err == nil && ok {
			var data timeline.TimelineData
			if err := json.Unmarshal(raw, &data); err == nil {
				return &data, nil
			}
		}
	}

	sum, err := s.cache.GetOrCompute(ctx, sessionID, true)
	if err != nil {
		return nil, err
	}
	events, err := s.store.EventsBySession(ctx, sessionID, nil)
	if err != nil {
		return nil, fmt.Errorf("timeline events: %w", err)
	}

	data := timeline.Transform(timeline.Input{
		SessionID: sessionID,
		Events:    events,
		Agents:    sum.Agents,
		Messages:  sum.Messages,
		Window:    window,
		Now:       s.now(),
	}, s.opts)

	if cacheable && settled(data) {
		if raw, err := json.Marshal(data); err == nil {
			if err := s.snapshots.Set(ctx, snapshotKey(sessionID), raw, s.cache.ttl); err != nil {
				slog.Debug("snapshot cache set failed", "session_id", sessionID, "error", err)
			}
		}
	}
	return data, nil
}

// settled reports whether every path is closed; only settled timelines are
// snapshot-cached since open intervals end at "now".
func settled(data *timeline.TimelineData) bool {
	for i := range data.Paths {
		if data.Paths[i].Open {
			return false
		}
	}
	return true
}

func (s *SessionService) summaries(ctx context.Context, ids []string, detail bool) ([]*session.Summary, error) {
	sums := make([]*session.Summary, 0, len(ids))
	for _, id := range ids {
		sum, err := s.cache.GetOrCompute(ctx, id, detail)
		if err != nil {
			return nil, err
		}
		if !detail && sum.HasDetail {
			sum = sum.DropDetail()
		}
		sums = append(sums, sum)
	}
	return sums, nil
}

func boundIDs(bounds []store.SessionBounds) []string {
	ids := make([]string, len(bounds))
	for i := range bounds {
		ids[i] = bounds[i].SessionID
	}
	return ids
}
