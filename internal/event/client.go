package event

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

type Client struct {
	ID      uuid.UUID
	Actor   string
	conn    *websocket.Conn
	hub     *Hub
	EventCh chan Event
}

func NewClient(conn *websocket.Conn, actor string) *Client {
	return &Client{
		ID:      uuid.New(),
		Actor:   actor,
		conn:    conn,
		EventCh: make(chan Event, 64),
	}
}

// CloseRead starts a goroutine that services control frames and cancels the
// returned context when the peer goes away. Watchers never send data frames.
func (c *Client) CloseRead(ctx context.Context) context.Context {
	return c.conn.CloseRead(ctx)
}

// WriteEvents pumps hub events to the websocket until the channel closes, a
// write fails or the context ends.
func (c *Client) WriteEvents(ctx context.Context) {
	for {
		select {
		case ev, ok := <-c.EventCh:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}

			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("failed to encode event: %v", err)
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
				cancel()
				// There is no read pump to notice a dead peer, so a failed
				// write is the disconnect signal.
				log.Printf("failed to write event to %s: %v", c.Actor, err)
				return
			}
			cancel()

		case <-ctx.Done():
			c.conn.Close(websocket.StatusGoingAway, "context cancelled")
			return
		}
	}
}
