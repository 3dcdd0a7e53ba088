package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/pixelgrid/forge-orchestrator/forge"
)

// WorkerEvent is a single push event from a node's event stream: a job
// progress tick, a job completion, or a job failure.
type WorkerEvent struct {
	Type        string          `json:"type"`
	WorkerJobID string          `json:"worker_job_id"`
	Progress    float64         `json:"progress,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

const (
	minBackoff  = time.Second
	maxBackoff  = 30 * time.Second
	pingEvery   = 30 * time.Second
	pongTimeout = 2 * pingEvery
)

// Subscribe opens a WebSocket connection to node's /ws/events endpoint and
// calls onEvent for every decoded message, reconnecting with exponential
// backoff (starting at minBackoff, capped at maxBackoff) whenever the
// connection drops. The backoff resets to minBackoff after any successful
// open, even if that connection later drops, per this package's
// reconnect contract. It blocks until ctx is cancelled.
func Subscribe(ctx context.Context, node forge.Node, onEvent func(WorkerEvent), log *logrus.Logger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}

	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		connected, err := subscribeOnce(ctx, node, onEvent, log)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.WithError(err).WithField("node_id", node.ID).Warn("worker event stream disconnected, reconnecting")
		}

		if connected {
			backoff = minBackoff
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		if !connected {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// subscribeOnce dials node once and streams events until the connection
// drops or ctx is cancelled. connected reports whether the dial itself
// succeeded, regardless of how the stream subsequently ended, so the
// caller can distinguish "never connected" (keep growing the backoff)
// from "connected, then dropped" (reset it).
func subscribeOnce(ctx context.Context, node forge.Node, onEvent func(WorkerEvent), log *logrus.Logger) (connected bool, err error) {
	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", node.Host, node.Port), Path: "/ws/events"}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, dialErr := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if dialErr != nil {
		return false, fmt.Errorf("%w: dialing %s: %v", forge.ErrTransport, u.String(), dialErr)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()

	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	go pingLoop(ctx, conn)

	for {
		_, data, readErr := conn.ReadMessage()
		if readErr != nil {
			select {
			case <-done:
				return true, nil
			default:
			}
			return true, fmt.Errorf("%w: reading message: %v", forge.ErrTransport, readErr)
		}

		var evt WorkerEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			log.WithError(err).WithField("node_id", node.ID).Warn("discarding malformed worker event")
			continue
		}
		onEvent(evt)
	}
}

func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
