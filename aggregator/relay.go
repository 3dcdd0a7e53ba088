package aggregator

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Relay republishes Aggregator events onto NATS so a session's
// subscriber, parked on whichever orchestrator replica accepted its
// WebSocket upgrade, still receives events published by the replica that
// actually owns the worker-job-id correlation. Without it, fan-out is
// strictly in-process and only reaches subscribers on the same replica
// that called Publish — fine for a single process, wrong once the
// downstream API scales out behind a load balancer.
//
// Grounded on codecflow-fabric's weaver/services/stream/nats package:
// a bare *nats.Conn with subject-based Publish/Subscribe, no JetStream.
// JetStream's durable, replayable streams buy nothing here: a dropped
// progress tick is just a dropped progress tick (the in-process bus
// already drops those under backpressure), and complete/error events are
// re-derivable from the job's row in storage if a replica restarts.
type Relay struct {
	conn    *nats.Conn
	subject string
	origin  string // random id tagging this process's own publishes, to skip echo
	log     *logrus.Logger
}

// relayedEvent is the wire envelope published to NATS.
type relayedEvent struct {
	Origin    string `json:"origin"`
	SessionID string `json:"session_id"`
	Event     Event  `json:"event"`
}

// NewRelay dials url and returns a Relay publishing on subject. Any
// dial failure is returned to the caller, who is expected to log it and
// fall back to the in-process-only bus rather than fail startup over a
// transport that is explicitly optional.
func NewRelay(url, subject string, log *logrus.Logger) (*Relay, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Relay{
		conn:    conn,
		subject: subject,
		origin:  uuid.NewString(),
		log:     log,
	}, nil
}

// Close drains and closes the underlying NATS connection.
func (r *Relay) Close() {
	if r == nil || r.conn == nil {
		return
	}
	r.conn.Close()
}

// publish republishes evt for sessionID onto NATS, tagged with this
// relay's origin so Run can ignore its own publishes on receipt.
func (r *Relay) publish(sessionID string, evt Event) {
	data, err := json.Marshal(relayedEvent{Origin: r.origin, SessionID: sessionID, Event: evt})
	if err != nil {
		r.log.WithError(err).Warn("relay: failed to marshal event")
		return
	}
	if err := r.conn.Publish(r.subject, data); err != nil {
		r.log.WithError(err).Warn("relay: failed to publish event")
	}
}

// run subscribes to the relay's subject and feeds every event not
// originated by this process into deliverLocal, which fans it out to
// this replica's own subscribers without re-publishing it. It blocks
// until ctx is cancelled, then unsubscribes and returns.
func (r *Relay) run(ctx context.Context, deliverLocal func(sessionID string, evt Event)) error {
	sub, err := r.conn.Subscribe(r.subject, func(msg *nats.Msg) {
		var re relayedEvent
		if err := json.Unmarshal(msg.Data, &re); err != nil {
			r.log.WithError(err).Warn("relay: discarding malformed message")
			return
		}
		if re.Origin == r.origin {
			return
		}
		deliverLocal(re.SessionID, re.Event)
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}
