package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/screwyforcepush/claude-comms-sub001/internal/domain"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEventService(st *mockStore) (*EventService, *mockNotifier, *mockToucher) {
	n := &mockNotifier{}
	tch := &mockToucher{}
	c := NewSessionCache(st, nil, testCacheConfig())
	return NewEventService(st, c, n, tch, nil, testLogger()), n, tch
}

func validEvent(sessionID string) *event.HookEvent {
	return &event.HookEvent{
		SourceApp:     "claude",
		SessionID:     sessionID,
		HookEventType: event.TypePreToolUse,
		Payload:       json.RawMessage(`{"tool":"Bash"}`),
	}
}

func TestEventAppendAssignsIDAndFansOut(t *testing.T) {
	st := newMockStore()
	svc, n, tch := newTestEventService(st)

	stored, err := svc.Append(context.Background(), validEvent("s1"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if stored.ID == 0 {
		t.Fatal("stored event has no id")
	}
	if stored.Timestamp.IsZero() {
		t.Fatal("stored event has no timestamp")
	}
	if len(n.events) != 1 || n.events[0].ID != stored.ID {
		t.Fatalf("notifier saw %d events", len(n.events))
	}
	if len(tch.touched) != 1 || tch.touched[0] != "s1" {
		t.Fatalf("scheduler touched = %v, want [s1]", tch.touched)
	}
}

func TestEventAppendMonotonicIDs(t *testing.T) {
	st := newMockStore()
	svc, _, _ := newTestEventService(st)
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		stored, err := svc.Append(ctx, validEvent("s1"))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if stored.ID <= last {
			t.Fatalf("id %d not greater than %d", stored.ID, last)
		}
		last = stored.ID
	}
}

func TestEventAppendRejectsMissingFields(t *testing.T) {
	st := newMockStore()
	svc, n, _ := newTestEventService(st)

	ev := validEvent("s1")
	ev.SessionID = ""
	if _, err := svc.Append(context.Background(), ev); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if len(st.events) != 0 {
		t.Fatal("invalid event persisted")
	}
	if len(n.events) != 0 {
		t.Fatal("invalid event broadcast")
	}
}

func TestEventRecentClampsLimit(t *testing.T) {
	st := newMockStore()
	svc, _, _ := newTestEventService(st)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Append(ctx, validEvent("s1")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := svc.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].ID >= events[1].ID {
		t.Fatal("recent page not oldest first")
	}

	if _, err := svc.Recent(ctx, 0); err != nil {
		t.Fatalf("recent with zero limit: %v", err)
	}
}

func TestEventBySessionTypeFilter(t *testing.T) {
	st := newMockStore()
	svc, _, _ := newTestEventService(st)
	ctx := context.Background()

	pre := validEvent("s1")
	if _, err := svc.Append(ctx, pre); err != nil {
		t.Fatalf("append: %v", err)
	}
	post := validEvent("s1")
	post.HookEventType = event.TypePostToolUse
	if _, err := svc.Append(ctx, post); err != nil {
		t.Fatalf("append: %v", err)
	}
	other := validEvent("s2")
	if _, err := svc.Append(ctx, other); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := svc.BySession(ctx, "s1", []string{event.TypePostToolUse})
	if err != nil {
		t.Fatalf("by session: %v", err)
	}
	if len(events) != 1 || events[0].HookEventType != event.TypePostToolUse {
		t.Fatalf("filter returned %d events", len(events))
	}
}
