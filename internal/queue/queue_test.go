package queue

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	events, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	want := Event{Type: EventScanned, RecordID: "rec-1", ActorID: "user-1", Members: 2, Children: 1}
	if err := q.Publish(ctx, want); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-events:
		if got.RecordID != want.RecordID || got.Members != 2 {
			t.Errorf("got %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	cancel()
	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected channel to close after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Publish(ctx, Event{Type: EventDeleted}); err == nil {
		t.Error("expected context error on full queue")
	}
}

func TestEncodeDecode(t *testing.T) {
	at := time.Date(2026, 10, 11, 9, 30, 0, 0, time.UTC)
	payload, err := encode(Event{Type: EventStatusChanged, RecordID: "r", Status: "rejected", At: at})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	evt, err := decode(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if evt.Status != "rejected" || !evt.At.Equal(at) {
		t.Errorf("unexpected event %+v", evt)
	}

	if _, err := decode(`{"recordId":"r"}`); err == nil {
		t.Error("expected error for event without type")
	}
	if _, err := decode("checkin|abc"); err == nil {
		t.Error("expected error for non-JSON payload")
	}
}
