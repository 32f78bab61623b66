package notify

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/clinicore/clinicore/internal/platform/websocket"
)

type capturePublisher struct {
	events []websocket.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, event websocket.Event) error {
	p.events = append(p.events, event)
	return p.err
}

func TestEmitFansOutPerTopic(t *testing.T) {
	pub := &capturePublisher{}
	n := NewNotifier(zerolog.Nop(), pub)

	n.Emit(context.Background(), "order.accepted", "order", "ocs_0007",
		[]string{"dept:imaging", "user:phys-1"}, map[string]string{"status": "accepted"})

	if len(pub.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(pub.events))
	}
	if pub.events[0].Topic != "dept:imaging" || pub.events[1].Topic != "user:phys-1" {
		t.Errorf("unexpected topics: %s, %s", pub.events[0].Topic, pub.events[1].Topic)
	}
	for _, ev := range pub.events {
		if ev.Type != "order.accepted" || ev.Entity != "order" || ev.EntityID != "ocs_0007" {
			t.Errorf("unexpected event: %+v", ev)
		}
		if len(ev.Data) == 0 {
			t.Error("expected payload data")
		}
	}
}

func TestEmitContinuesAfterPublisherError(t *testing.T) {
	failing := &capturePublisher{err: context.DeadlineExceeded}
	ok := &capturePublisher{}
	n := NewNotifier(zerolog.Nop(), failing, ok)

	n.Emit(context.Background(), "job.completed", "inference_job", "ai_req_0002",
		[]string{"user:phys-1"}, nil)

	if len(ok.events) != 1 {
		t.Fatalf("second publisher should still receive the event, got %d", len(ok.events))
	}
}

func TestOrderTopics(t *testing.T) {
	got := OrderTopics("lab", "phys-9")
	if len(got) != 2 || got[0] != "dept:lab" || got[1] != "user:phys-9" {
		t.Fatalf("unexpected topics: %v", got)
	}

	if got := OrderTopics("", "phys-9"); len(got) != 1 || got[0] != "user:phys-9" {
		t.Fatalf("unexpected topics without department: %v", got)
	}
}

func TestJobTopics(t *testing.T) {
	got := JobTopics("imaging", "phys-2")
	if len(got) != 2 || got[0] != "dept:imaging" || got[1] != "user:phys-2" {
		t.Fatalf("unexpected topics: %v", got)
	}
}
