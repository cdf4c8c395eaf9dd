package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewInMemory(4)
	ev, err := NewEvent(KindPoolScan, time.Date(2025, 9, 1, 7, 30, 0, 0, time.UTC), map[string]string{
		"student_id": "s1",
		"class_id":   "11 HUMSS - B",
	})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if err := feed.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	out, err := feed.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	select {
	case got := <-out:
		if got.Kind != KindPoolScan {
			t.Errorf("kind = %q, want %q", got.Kind, KindPoolScan)
		}
		var payload map[string]string
		if err := json.Unmarshal(got.Payload, &payload); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if payload["class_id"] != "11 HUMSS - B" {
			t.Errorf("class_id = %q", payload["class_id"])
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestPublishBlockedByCancel(t *testing.T) {
	feed := NewInMemory(1)
	ctx := context.Background()
	ev, _ := NewEvent(KindVerified, time.Now(), struct{}{})
	if err := feed.Publish(ctx, ev); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := feed.Publish(canceled, ev); err == nil {
		t.Fatal("publish into a full feed with canceled context should fail")
	}
}
