package stream

import (
	"context"
	"testing"
	"time"
)

func TestSubscribePublishUnsubscribe(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)

	s.Publish(ScanUpdate{InvitationID: "inv-1", Decision: "accepted"})
	select {
	case upd := <-ch:
		if upd.InvitationID != "inv-1" {
			t.Fatalf("unexpected update: %#v", upd)
		}
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}

	cancel()
	for {
		if _, ok := <-ch; !ok {
			break
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = s.Subscribe(ctx) // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Publish(ScanUpdate{InvitationID: "inv-1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
