package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/cropcover/internal/core/domain"
)

// SubjectPrefix is followed by the terminal state: cropcover.analysis.succeeded / .failed.
const SubjectPrefix = "cropcover.analysis."

// StreamConfig is the JetStream stream holding analysis outcomes.
var StreamConfig = nats.StreamConfig{
	Name:      "CROPCOVER_ANALYSES",
	Subjects:  []string{SubjectPrefix + ">"},
	Retention: nats.LimitsPolicy,
	MaxAge:    7 * 24 * time.Hour,
	Storage:   nats.FileStorage,
}

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and ensures the outcome stream exists.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("cropcover-api"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	cfg := StreamConfig
	if _, err := js.AddStream(&cfg); err != nil {
		// Stream may already exist — try update
		if _, err := js.UpdateStream(&cfg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

// Subject returns the subject an outcome is published on.
func Subject(outcome *domain.AnalysisOutcome) string {
	return SubjectPrefix + string(outcome.State)
}

// PublishAnalysisOutcome publishes the outcome as JSON. The session and
// generation form the message id so redeliveries are deduplicated.
func (p *Publisher) PublishAnalysisOutcome(ctx context.Context, outcome *domain.AnalysisOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	msgID := fmt.Sprintf("%s-%d", outcome.SessionID, outcome.Generation)
	_, err = p.js.Publish(Subject(outcome), data, nats.Context(ctx), nats.MsgId(msgID))
	return err
}

// Connected reports whether the connection is currently up.
func (p *Publisher) Connected() bool {
	return p.conn.IsConnected()
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}
