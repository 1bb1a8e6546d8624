package console

import (
	"log"
	"net/http"

	"github.com/coder/websocket"

	"github.com/llforeman/shifty/internal/event"
)

// handleEvents upgrades the connection and streams operation events until
// the watcher goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("failed to upgrade connection to WebSocket: %v", err)
		return
	}

	actor := Actor(r.Context())
	log.Printf("upgraded connection for watcher %s", actor)

	c := event.NewClient(conn, actor)
	reg := event.Registration{
		Client: c,
		Done:   make(chan struct{}),
	}

	s.hub.Register <- reg

	// Wait for registration to complete
	<-reg.Done

	// Watchers never send data frames; CloseRead services control frames
	// and cancels the context when the peer disconnects. We block on the
	// write pump because the request context dies as soon as we return.
	ctx := c.CloseRead(r.Context())
	c.WriteEvents(ctx)

	s.hub.Unregister <- c
}
