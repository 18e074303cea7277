package service

import (
	"context"
	"errors"
	"testing"

	"github.com/screwyforcepush/claude-comms-sub001/internal/domain"
	"github.com/screwyforcepush/claude-comms-sub001/internal/domain/message"
)

func newTestMessageService(st *mockStore) (*MessageService, *mockNotifier) {
	n := &mockNotifier{}
	return NewMessageService(st, n, testLogger()), n
}

func TestMessageSendAndNotify(t *testing.T) {
	st := newMockStore()
	svc, n := newTestMessageService(st)

	stored, err := svc.Send(context.Background(), &message.Message{
		Sender:  "worker-1",
		Content: message.TextContent("status update"),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if stored.ID == 0 || stored.CreatedAt.IsZero() {
		t.Fatal("stored message missing id or timestamp")
	}
	if len(stored.Notified) != 0 {
		t.Fatalf("new message already notified: %v", stored.Notified)
	}
	if len(n.messages) != 1 {
		t.Fatalf("notifier saw %d messages, want 1", len(n.messages))
	}
}

func TestMessageSendValidation(t *testing.T) {
	st := newMockStore()
	svc, _ := newTestMessageService(st)
	ctx := context.Background()

	if _, err := svc.Send(ctx, &message.Message{Content: message.TextContent("x")}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("missing sender: err = %v", err)
	}
	if _, err := svc.Send(ctx, &message.Message{Sender: "worker-1"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("missing content: err = %v", err)
	}
}

func TestMessageUnreadMarksNotified(t *testing.T) {
	st := newMockStore()
	svc, _ := newTestMessageService(st)
	ctx := context.Background()

	for _, text := range []string{"one", "two"} {
		if _, err := svc.Send(ctx, &message.Message{Sender: "worker-1", Content: message.TextContent(text)}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	unread, err := svc.Unread(ctx, "worker-2")
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if len(unread) != 2 {
		t.Fatalf("got %d unread, want 2", len(unread))
	}

	again, err := svc.Unread(ctx, "worker-2")
	if err != nil {
		t.Fatalf("unread again: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second call returned %d messages, want 0", len(again))
	}

	// A different recipient still sees everything.
	other, err := svc.Unread(ctx, "worker-3")
	if err != nil {
		t.Fatalf("unread other: %v", err)
	}
	if len(other) != 2 {
		t.Fatalf("other recipient got %d unread, want 2", len(other))
	}
}

func TestMessageUnreadRequiresName(t *testing.T) {
	st := newMockStore()
	svc, _ := newTestMessageService(st)

	if _, err := svc.Unread(context.Background(), ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestMessageAllKeepsOrder(t *testing.T) {
	st := newMockStore()
	svc, _ := newTestMessageService(st)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		if _, err := svc.Send(ctx, &message.Message{Sender: "worker-1", Content: message.TextContent(text)}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	all, err := svc.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d messages, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ID <= all[i-1].ID {
			t.Fatal("message log not oldest first")
		}
	}
}
