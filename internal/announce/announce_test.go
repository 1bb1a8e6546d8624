package announce_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/llforeman/shifty/internal/announce"
	"github.com/llforeman/shifty/internal/config"
	"github.com/llforeman/shifty/internal/event"
)

func TestPublishSubscribe(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	ann, err := announce.Dial(ctx, config.Events{NATSURL: url})
	require.NoError(t, err)
	t.Cleanup(ann.Close)

	ch := make(chan event.Event, 64)
	require.NoError(t, ann.Subscribe(ctx, ch))

	runID := uuid.NewString()
	seq, err := ann.Publish(ctx, event.Event{
		RunID:   runID,
		Actor:   "montse",
		Action:  "patch apply",
		Target:  "chat-recipient",
		Outcome: "ok",
	})
	require.NoError(t, err)
	require.NotZero(t, seq)

	// The ephemeral consumer replays the whole stream, so skip events from
	// earlier runs until ours arrives.
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.RunID != runID {
				continue
			}
			require.Equal(t, "chat-recipient", ev.Target)
			require.Equal(t, "ok", ev.Outcome)
			return
		case <-deadline:
			t.Fatal("event did not round-trip through the stream")
		}
	}
}
