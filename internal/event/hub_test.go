package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/llforeman/shifty/internal/audit"
)

func register(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	reg := Registration{Client: c, Done: make(chan struct{})}
	hub.Register <- reg
	select {
	case <-reg.Done:
	case <-time.After(2 * time.Second):
		t.Fatal("registration not acknowledged")
	}
}

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	a := NewClient(nil, "montse")
	b := NewClient(nil, "oriol")
	register(t, hub, a)
	register(t, hub, b)

	hub.Publish(Event{Action: "patch apply", Target: "chat-recipient", Outcome: "ok"})

	for _, c := range []*Client{a, b} {
		select {
		case ev := <-c.EventCh:
			require.Equal(t, "chat-recipient", ev.Target)
			require.Equal(t, "ok", ev.Outcome)
		case <-time.After(2 * time.Second):
			t.Fatalf("event did not reach %s", c.Actor)
		}
	}
}

func TestHubUnregisterClosesChannel(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	a := NewClient(nil, "montse")
	register(t, hub, a)

	hub.Unregister <- a
	select {
	case _, ok := <-a.EventCh:
		require.False(t, ok, "channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestHubDropsWhenWatcherSlow(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	a := NewClient(nil, "montse")
	register(t, hub, a)

	// Nothing drains EventCh, so the hub fills the buffer and drops the
	// rest instead of blocking.
	for i := 0; i < 100; i++ {
		hub.Publish(Event{Action: "status"})
	}

	require.Eventually(t, func() bool {
		return len(a.EventCh) == cap(a.EventCh)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFromEntry(t *testing.T) {
	started := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	ev := FromEntry(audit.Entry{
		RunID:     "run-1",
		Actor:     "montse",
		Action:    "patch apply",
		Target:    "chat-recipient",
		Outcome:   audit.OutcomeFailed,
		Detail:    "duplicate column",
		StartedAt: started,
	})
	require.Equal(t, "run-1", ev.RunID)
	require.Equal(t, "patch apply", ev.Action)
	require.Equal(t, audit.OutcomeFailed, ev.Outcome)
	require.Equal(t, started, ev.At)
}
