package httpapi

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// registerWebsocket wires GET /ws/session/{id}. The upgrade itself needs
// the bearer token from a query parameter (browsers can't set headers on
// the handshake request), so it runs through the same auth middleware as
// every other route rather than a bespoke check.
func (s *Server) registerWebsocket(app *fiber.App, auth *authMiddleware) {
	app.Use("/ws", auth.Authenticate(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/session/:id", websocket.New(s.handleSessionWS))
}

// handleSessionWS streams the Aggregator's normalized events for one
// session to a single WebSocket client until either side disconnects. A
// ticker keeps the connection alive with a ping when no events arrive,
// following this codebase's hub write-pump pattern.
func (s *Server) handleSessionWS(conn *websocket.Conn) {
	sessionID := conn.Params("id")
	events, unsubscribe := s.deps.Aggregator.Subscribe(sessionID)
	defer unsubscribe()
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
