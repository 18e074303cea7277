package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/screwyforcepush/claude-comms-sub001/internal/config"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/timeline"
	"github.com/screwyforcepush/claude-comms-sub001/internal/port/broadcast"
)

// UpdateScheduler decouples fan-out from ingestion. Mutations mark a
// session as touched; a single goroutine drains the touched set once per
// tick, recomputes the affected timelines and pushes them to subscribers.
// Touches of the same session within one tick coalesce into a single
// recompute, and the drained set is the union of everything touched since
// the previous tick. A running transform is never preempted.
type UpdateScheduler struct {
	sessions *SessionService
	sink     broadcast.TimelineSink

	tick        time.Duration
	frameBudget time.Duration
	pathBatch   int
	msgBatch    int

	mu      sync.Mutex
	touched map[string]struct{}
	replays []*replayJob

	// TickObserver, when set, receives the wall time of each tick's work.
	TickObserver func(time.Duration)

	now func() time.Time
}

// replayJob is one progressive delivery in flight: structural layer,
// then paths in bounded batches, then messages, each phase paced against
// the frame budget.
type replayJob struct {
	connID    string
	sessionID string
	window    timeline.Window

	data       *timeline.TimelineData
	phase      int // 0 lanes, 1 paths, 2 messages
	pathOffset int
	msgOffset  int
}

// NewUpdateScheduler creates a scheduler. Run must be started for any
// update to flow.
func NewUpdateScheduler(sessions *SessionService, sink broadcast.TimelineSink, cfg config.Stream) *UpdateScheduler {
	return &UpdateScheduler{
		sessions:    sessions,
		sink:        sink,
		tick:        cfg.Tick,
		frameBudget: cfg.FrameBudget,
		pathBatch:   cfg.PathBatchSize,
		msgBatch:    cfg.MessageBatchSize,
		touched:     make(map[string]struct{}),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Touch marks a session as needing a recompute. Safe for concurrent use
// and never blocks; a session already pending is not queued twice.
func (u *UpdateScheduler) Touch(sessionID string) {
	u.mu.Lock()
	u.touched[sessionID] = struct{}{}
	u.mu.Unlock()
}

// EnqueueReplay schedules a progressive timeline delivery for one
// connection, used on subscribe and on large window changes.
func (u *UpdateScheduler) EnqueueReplay(connID, sessionID string, window timeline.Window) {
	u.mu.Lock()
	u.replays = append(u.replays, &replayJob{connID: connID, sessionID: sessionID, window: window})
	u.mu.Unlock()
}

// Run drives the tick loop until ctx is cancelled. The maximum delay
// between a touch and its push is one tick interval.
func (u *UpdateScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(u.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := u.now()
			u.drainTouched(ctx)
			u.serveReplays(ctx)
			if u.TickObserver != nil {
				u.TickObserver(u.now().Sub(start))
			}
		}
	}
}

// drainTouched swaps out the touched set and recomputes each session that
// has subscribers. Sessions nobody watches only get their cache entry
// invalidated by the mutation path, so skipping them here is safe.
func (u *UpdateScheduler) drainTouched(ctx context.Context) {
	u.mu.Lock()
	pending := u.touched
	u.touched = make(map[string]struct{})
	u.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	watched := make(map[string]struct{})
	for _, id := range u.sink.ActiveSessions() {
		watched[id] = struct{}{}
	}

	for sessionID := range pending {
		if _, ok := watched[sessionID]; !ok {
			continue
		}
		data, err := u.sessions.Timeline(ctx, sessionID, timeline.Window{})
		if err != nil {
			slog.Error("timeline recompute failed", "session_id", sessionID, "error", err)
			continue
		}
		u.sink.TimelineUpdated(sessionID, data)
	}
}

// serveReplays advances in-flight progressive deliveries, spending at most
// the frame budget per job slice and deferring the remainder to the next
// tick.
func (u *UpdateScheduler) serveReplays(ctx context.Context) {
	u.mu.Lock()
	jobs := u.replays
	u.replays = nil
	u.mu.Unlock()

	var requeue []*replayJob
	for _, job := range jobs {
		done, alive := u.advanceReplay(ctx, job)
		if alive && !done {
			requeue = append(requeue, job)
		}
	}

	if len(requeue) > 0 {
		u.mu.Lock()
		u.replays = append(requeue, u.replays...)
		u.mu.Unlock()
	}
}

// advanceReplay runs one frame-budget slice of a replay. Returns done when
// the final phase has shipped, and alive=false when the connection
// disappeared mid-replay.
func (u *UpdateScheduler) advanceReplay(ctx context.Context, job *replayJob) (done, alive bool) {
	if job.data == nil {
		data, err := u.sessions.Timeline(ctx, job.sessionID, job.window)
		if err != nil {
			slog.Error("replay transform failed", "session_id", job.sessionID, "error", err)
			return true, true
		}
		job.data = data
	}

	deadline := u.now().Add(u.frameBudget)
	for u.now().Before(deadline) {
		switch job.phase {
		case 0:
			// Structural layer first: lanes, batches and the window, so
			// the renderer can lay out before any path data arrives.
			ok := u.sink.DeliverPhase(job.connID, broadcast.Phase{
				SessionID: job.sessionID,
				Kind:      broadcast.PhaseLanes,
				Payload: map[string]any{
					"window":     job.data.Window,
					"lane_count": job.data.LaneCount,
					"batches":    job.data.Batches,
				},
			})
			if !ok {
				return false, false
			}
			job.phase = 1

		case 1:
			if job.pathOffset >= len(job.data.Paths) {
				job.phase = 2
				continue
			}
			end := min(job.pathOffset+u.pathBatch, len(job.data.Paths))
			ok := u.sink.DeliverPhase(job.connID, broadcast.Phase{
				SessionID: job.sessionID,
				Kind:      broadcast.PhasePaths,
				Payload:   job.data.Paths[job.pathOffset:end],
			})
			if !ok {
				return false, false
			}
			job.pathOffset = end

		case 2:
			end := min(job.msgOffset+u.msgBatch, len(job.data.Messages))
			last := end == len(job.data.Messages)
			ok := u.sink.DeliverPhase(job.connID, broadcast.Phase{
				SessionID: job.sessionID,
				Kind:      broadcast.PhaseMessages,
				Payload:   job.data.Messages[job.msgOffset:end],
				Done:      last,
			})
			if !ok {
				return false, false
			}
			job.msgOffset = end
			if last {
				return true, true
			}
		}
	}
	return false, true
}
