package service

import (
	"context"
	"testing"
	"time"

	"github.com/screwyforcepush/claude-comms-sub001/internal/config"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/timeline"
	"github.com/screwyforcepush/claude-comms-sub001/internal/port/broadcast"
)

func newTestScheduler(st *mockStore, sink *mockSink) *UpdateScheduler {
	cfg := config.Defaults().Stream
	cfg.PathBatchSize = 2
	cfg.MessageBatchSize = 2
	sessions := NewSessionService(st, NewSessionCache(st, nil, testCacheConfig()), nil, cfg)
	return NewUpdateScheduler(sessions, sink, cfg)
}

func TestSchedulerCoalescesTouches(t *testing.T) {
	st := newMockStore()
	seedSession(t, st, "s1")
	sink := newMockSink("s1")
	sched := newTestScheduler(st, sink)

	for i := 0; i < 10; i++ {
		sched.Touch("s1")
	}
	sched.drainTouched(context.Background())

	if sink.updates["s1"] != 1 {
		t.Fatalf("pushed %d updates, want 1", sink.updates["s1"])
	}

	// Nothing pending after the drain.
	sched.drainTouched(context.Background())
	if sink.updates["s1"] != 1 {
		t.Fatalf("empty drain pushed again: %d updates", sink.updates["s1"])
	}
}

func TestSchedulerSkipsUnwatchedSessions(t *testing.T) {
	st := newMockStore()
	seedSession(t, st, "s1")
	seedSession(t, st, "s2")
	sink := newMockSink("s1")
	sched := newTestScheduler(st, sink)

	sched.Touch("s1")
	sched.Touch("s2")
	sched.drainTouched(context.Background())

	if sink.updates["s1"] != 1 {
		t.Fatalf("watched session got %d updates, want 1", sink.updates["s1"])
	}
	if sink.updates["s2"] != 0 {
		t.Fatalf("unwatched session got %d updates, want 0", sink.updates["s2"])
	}
}

func TestSchedulerTouchDuringDrainSurvives(t *testing.T) {
	st := newMockStore()
	seedSession(t, st, "s1")
	sink := newMockSink()
	sched := newTestScheduler(st, sink)

	sched.Touch("s1")
	sched.drainTouched(context.Background())

	// s1 had no watcher, so it was skipped. A later touch with a watcher
	// present must still reach the sink: skipped sessions are not
	// remembered as done.
	sink.active = []string{"s1"}
	sched.Touch("s1")
	sched.drainTouched(context.Background())
	if sink.updates["s1"] != 1 {
		t.Fatalf("got %d updates, want 1", sink.updates["s1"])
	}
}

func TestSchedulerReplayPhaseOrder(t *testing.T) {
	st := newMockStore()
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		if _, _, err := st.RegisterAgent(ctx, "s1", name, "worker"); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	sink := newMockSink("s1")
	sched := newTestScheduler(st, sink)

	sched.EnqueueReplay("conn-1", "s1", timeline.Window{})
	for i := 0; i < 10 && !replayDone(sink); i++ {
		sched.serveReplays(ctx)
	}

	if len(sink.phases) == 0 {
		t.Fatal("no phases delivered")
	}
	if sink.phases[0].Kind != broadcast.PhaseLanes {
		t.Fatalf("first phase = %s, want %s", sink.phases[0].Kind, broadcast.PhaseLanes)
	}

	// Kinds arrive in order: lanes, then paths, then messages.
	rank := map[string]int{broadcast.PhaseLanes: 0, broadcast.PhasePaths: 1, broadcast.PhaseMessages: 2}
	prev := 0
	pathCount := 0
	for _, p := range sink.phases {
		r, ok := rank[p.Kind]
		if !ok {
			t.Fatalf("unknown phase kind %q", p.Kind)
		}
		if r < prev {
			t.Fatalf("phase %s delivered after %v", p.Kind, prev)
		}
		prev = r
		if p.Kind == broadcast.PhasePaths {
			batch, ok := p.Payload.([]timeline.AgentPath)
			if !ok {
				t.Fatalf("paths payload type %T", p.Payload)
			}
			if len(batch) > 2 {
				t.Fatalf("path batch of %d exceeds configured size 2", len(batch))
			}
			pathCount += len(batch)
		}
	}
	if pathCount != 3 {
		t.Fatalf("delivered %d paths, want 3", pathCount)
	}

	last := sink.phases[len(sink.phases)-1]
	if last.Kind != broadcast.PhaseMessages || !last.Done {
		t.Fatalf("final phase = %s done=%v, want %s done=true", last.Kind, last.Done, broadcast.PhaseMessages)
	}
}

func TestSchedulerReplayAbortsOnDeadConnection(t *testing.T) {
	st := newMockStore()
	ctx := context.Background()
	if _, _, err := st.RegisterAgent(ctx, "s1", "a", "worker"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	sink := newMockSink("s1")
	sink.deadConn = "conn-1"
	sched := newTestScheduler(st, sink)

	sched.EnqueueReplay("conn-1", "s1", timeline.Window{})
	sched.serveReplays(ctx)

	if len(sink.phases) != 0 {
		t.Fatalf("dead connection received %d phases", len(sink.phases))
	}
	sched.mu.Lock()
	pending := len(sched.replays)
	sched.mu.Unlock()
	if pending != 0 {
		t.Fatalf("%d replay jobs still queued for a dead connection", pending)
	}
}

func TestSchedulerTickObserver(t *testing.T) {
	st := newMockStore()
	sink := newMockSink()
	sched := newTestScheduler(st, sink)

	var observed []time.Duration
	sched.TickObserver = func(d time.Duration) { observed = append(observed, d) }
	sched.tick = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sched.Run(ctx)

	if len(observed) == 0 {
		t.Fatal("tick observer never called")
	}
}

func replayDone(s *mockSink) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.phases {
		if p.Done {
			return true
		}
	}
	return false
}
