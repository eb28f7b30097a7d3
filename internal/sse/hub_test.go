package sse

import (
	"testing"

	"github.com/google/uuid"

	"github.com/psillyops/psillyops-backend/internal/logger"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return NewHub(log)
}

func TestPublishReachesSubscribers(t *testing.T) {
	hub := newTestHub(t)
	client := hub.NewClient(uuid.New())
	hub.AddChannel(client, ChannelRuns)

	hub.Publish(ChannelRuns, EventRunCreated, map[string]any{"x": 1})

	select {
	case msg := <-client.Outbound:
		if msg.Event != EventRunCreated {
			t.Fatalf("event: want=%s got=%s", EventRunCreated, msg.Event)
		}
		if msg.Channel != ChannelRuns {
			t.Fatalf("channel: want=%s got=%s", ChannelRuns, msg.Channel)
		}
	default:
		t.Fatalf("no message delivered")
	}
}

func TestPublishScopedToChannel(t *testing.T) {
	hub := newTestHub(t)
	runID := uuid.New()

	global := hub.NewClient(uuid.New())
	hub.AddChannel(global, ChannelRuns)
	scoped := hub.NewClient(uuid.New())
	hub.AddChannel(scoped, RunChannel(runID))

	hub.Publish(RunChannel(runID), EventRunStepStarted, nil)

	select {
	case <-scoped.Outbound:
	default:
		t.Fatalf("scoped client missed its channel's message")
	}
	select {
	case msg := <-global.Outbound:
		t.Fatalf("global client got a scoped message: %+v", msg)
	default:
	}
}

func TestPublishDropsWhenOutboundFull(t *testing.T) {
	hub := newTestHub(t)
	client := hub.NewClient(uuid.New())
	hub.AddChannel(client, ChannelRuns)

	// One more than the buffer; the overflow must be dropped, not block.
	for i := 0; i < cap(client.Outbound)+1; i++ {
		hub.Publish(ChannelRuns, EventRunCreated, i)
	}
	if got := len(client.Outbound); got != cap(client.Outbound) {
		t.Fatalf("outbound length: want=%d got=%d", cap(client.Outbound), got)
	}
}

func TestRemoveClientUnsubscribes(t *testing.T) {
	hub := newTestHub(t)
	client := hub.NewClient(uuid.New())
	hub.AddChannel(client, ChannelRuns)

	hub.RemoveClient(client)
	hub.Publish(ChannelRuns, EventRunCreated, nil)

	select {
	case <-client.Outbound:
		t.Fatalf("removed client still receives messages")
	default:
	}
	select {
	case <-client.Done():
	default:
		t.Fatalf("removed client not closed")
	}
}

func TestRunChannelName(t *testing.T) {
	id := uuid.New()
	if got := RunChannel(id); got != "run:"+id.String() {
		t.Fatalf("RunChannel: got %q", got)
	}
}
