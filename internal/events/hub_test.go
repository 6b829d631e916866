package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHubPublishSubscribe(t *testing.T) {
	h := NewHub(8)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(JobLaunched, JobPayload{JobID: "abc", JobName: "build", PID: 12})

	select {
	case ev := <-ch:
		if ev.Type != JobLaunched || ev.ID != 1 {
			t.Fatalf("unexpected event %+v", ev)
		}
		var p JobPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if p.JobID != "abc" || p.JobName != "build" || p.PID != 12 {
			t.Fatalf("payload = %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestHubNilPayload(t *testing.T) {
	h := NewHub(4)
	h.Publish(DispatcherStarted, nil)

	evs := h.Since(0)
	if len(evs) != 1 || string(evs[0].Data) != "{}" {
		t.Fatalf("unexpected snapshot %+v", evs)
	}
}

func TestHubRingBufferOverwritesOldest(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(TriggerReceived, nil)
	}

	evs := h.Since(0)
	if len(evs) != 3 {
		t.Fatalf("len = %d, want 3", len(evs))
	}
	for i, want := range []int64{3, 4, 5} {
		if evs[i].ID != want {
			t.Errorf("evs[%d].ID = %d, want %d", i, evs[i].ID, want)
		}
	}

	since := h.Since(4)
	if len(since) != 1 || since[0].ID != 5 {
		t.Fatalf("Since(4) = %+v", since)
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	h := NewHub(2)
	ch, cancel := h.Subscribe()
	if h.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", h.Subscribers())
	}

	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	if h.Subscribers() != 0 {
		t.Fatalf("Subscribers() = %d, want 0", h.Subscribers())
	}
	h.Publish(JobCompleted, nil)
}

func TestHubSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := NewHub(4)
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			h.Publish(TriggerReceived, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if evs := h.Since(0); len(evs) != 4 || evs[3].ID != int64(subscriberBuffer*2) {
		t.Fatalf("backlog = %+v", evs)
	}
}

func TestHubSinceNewestIsEmpty(t *testing.T) {
	h := NewHub(4)
	h.Publish(JobWaiting, nil)
	if evs := h.Since(1); len(evs) != 0 {
		t.Fatalf("Since(1) = %+v, want none", evs)
	}
}
