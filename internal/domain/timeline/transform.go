package timeline

import (
	"sort"
	"time"

	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/agent"
)

// Transform derives the renderable timeline for one session. It never
// mutates its inputs and touches no shared state.
func Transform(in Input, opts Options) *TimelineData {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	agents := visibleAgents(in, now)
	origin := windowOrigin(in, agents)

	lanes, laneCount := assignLanes(agents, now)

	out := &TimelineData{
		SessionID: in.SessionID,
		Window:    in.Window,
		LaneCount: laneCount,
		Batches:   clusterBatches(agents, opts.clusterWindow()),
	}

	paths := make([]AgentPath, 0, len(agents))
	byName := make(map[string]*AgentPath, len(agents))
	for i := range agents {
		a := &agents[i]
		start, end, open := interval(a, now)
		p := AgentPath{
			Name:         a.Name,
			SubagentType: a.SubagentType,
			Status:       string(a.Status),
			Lane:         lanes[i],
			StartedAt:    start,
			EndedAt:      end,
			Open:         open,
			Curve:        newCurve(seconds(start, origin), seconds(end, origin), lanes[i], opts.heightBudget()),
		}
		paths = append(paths, p)
	}
	out.Paths = paths
	for i := range out.Paths {
		byName[out.Paths[i].Name] = &out.Paths[i]
	}

	out.Messages = mapMessages(in, byName)
	out.Events = eventMarkers(in, origin)
	return out
}

// visibleAgents filters the session's agents to those whose interval
// overlaps the window, sorted by spawn time with insert order as the
// tie-break.
func visibleAgents(in Input, now time.Time) []agent.Record {
	agents := make([]agent.Record, 0, len(in.Agents))
	for i := range in.Agents {
		a := in.Agents[i]
		_, end, _ := interval(&a, now)
		if in.Window.Contains(a.CreatedAt, end) {
			agents = append(agents, a)
		}
	}
	sort.SliceStable(agents, func(i, j int) bool {
		if agents[i].CreatedAt.Equal(agents[j].CreatedAt) {
			return agents[i].ID < agents[j].ID
		}
		return agents[i].CreatedAt.Before(agents[j].CreatedAt)
	})
	return agents
}

// interval returns the occupied time span for an agent. An agent with no
// completed_at is open-ended and occupies up to now.
func interval(a *agent.Record, now time.Time) (start, end time.Time, open bool) {
	if a.CompletedAt != nil {
		return a.CreatedAt, *a.CompletedAt, false
	}
	return a.CreatedAt, now, true
}

// windowOrigin picks the x=0 instant: the window start when given, else the
// earliest visible activity.
func windowOrigin(in Input, agents []agent.Record) time.Time {
	if !in.Window.Start.IsZero() {
		return in.Window.Start
	}
	var origin time.Time
	for i := range agents {
		if origin.IsZero() || agents[i].CreatedAt.Before(origin) {
			origin = agents[i].CreatedAt
		}
	}
	for i := range in.Events {
		if origin.IsZero() || in.Events[i].Timestamp.Before(origin) {
			origin = in.Events[i].Timestamp
		}
	}
	return origin
}

func seconds(t, origin time.Time) float64 {
	return t.Sub(origin).Seconds()
}

// clusterBatches groups agents by single-linkage time clustering: an agent
// joins the open batch while its spawn falls within clusterWindow of the
// batch's most recent member. Assumes agents sorted by CreatedAt.
func clusterBatches(agents []agent.Record, clusterWindow time.Duration) []Batch {
	var batches []Batch
	for i := range agents {
		a := &agents[i]
		if len(batches) > 0 {
			last := &batches[len(batches)-1]
			prev := agents[i-1].CreatedAt
			if a.CreatedAt.Sub(prev) <= clusterWindow {
				last.Agents = append(last.Agents, a.Name)
				continue
			}
		}
		batches = append(batches, Batch{
			Index:     len(batches),
			SpawnedAt: a.CreatedAt,
			Agents:    []string{a.Name},
		})
	}
	return batches
}

// assignLanes runs greedy interval scheduling: each agent takes the
// lowest-numbered lane whose previous occupant ended strictly before the
// agent's start, otherwise a new lane opens. Touching intervals never
// share a lane. Assumes agents sorted by CreatedAt.
func assignLanes(agents []agent.Record, now time.Time) (lanes []int, laneCount int) {
	lanes = make([]int, len(agents))
	var laneEnds []time.Time
	for i := range agents {
		start, end, _ := interval(&agents[i], now)
		placed := false
		for lane := range laneEnds {
			if laneEnds[lane].Before(start) {
				laneEnds[lane] = end
				lanes[i] = lane
				placed = true
				break
			}
		}
		if !placed {
			laneEnds = append(laneEnds, end)
			lanes[i] = len(laneEnds) - 1
		}
	}
	return lanes, len(laneEnds)
}

// mapMessages pins each message to its sender's path at the nearest
// position at or after the message timestamp. Messages from senders with
// no visible path are dropped.
func mapMessages(in Input, byName map[string]*AgentPath) []MessageMarker {
	var markers []MessageMarker
	for i := range in.Messages {
		m := &in.Messages[i]
		p, ok := byName[m.Sender]
		if !ok {
			continue
		}
		span := p.EndedAt.Sub(p.StartedAt)
		var u float64
		switch {
		case span <= 0, !m.CreatedAt.After(p.StartedAt):
			u = 0
		case m.CreatedAt.After(p.EndedAt):
			u = 1
		default:
			u = m.CreatedAt.Sub(p.StartedAt).Seconds() / span.Seconds()
		}
		markers = append(markers, MessageMarker{
			Sender:    m.Sender,
			CreatedAt: m.CreatedAt,
			Path:      p.Name,
			Point:     p.Curve.At(u),
		})
	}
	sort.SliceStable(markers, func(i, j int) bool {
		return markers[i].CreatedAt.Before(markers[j].CreatedAt)
	})
	return markers
}

// eventMarkers places window-visible events as ticks on the baseline.
func eventMarkers(in Input, origin time.Time) []EventMarker {
	var marks []EventMarker
	for i := range in.Events {
		ev := &in.Events[i]
		if !in.Window.Contains(ev.Timestamp, ev.Timestamp) {
			continue
		}
		marks = append(marks, EventMarker{
			HookEventType: ev.HookEventType,
			Timestamp:     ev.Timestamp,
			Point:         Point{X: seconds(ev.Timestamp, origin), Y: 0},
		})
	}
	sort.SliceStable(marks, func(i, j int) bool {
		return marks[i].Timestamp.Before(marks[j].Timestamp)
	})
	return marks
}
