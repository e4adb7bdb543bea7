package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/cropcover/internal/core/domain"
)

// OutcomeHandler processes one analysis outcome. A returned error redelivers it.
type OutcomeHandler func(ctx context.Context, outcome *domain.AnalysisOutcome) error

// Subscriber consumes analysis outcomes from JetStream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber connects to NATS.
func NewSubscriber(url, name string) (*Subscriber, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
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
	return &Subscriber{conn: conn, js: js}, nil
}

// SubscribeAnalysisOutcomes delivers every outcome on cropcover.analysis.> to handler
// through a durable consumer. Undecodable messages are terminated, not redelivered.
func (s *Subscriber) SubscribeAnalysisOutcomes(ctx context.Context, durable string, handler OutcomeHandler) error {
	sub, err := s.js.Subscribe(SubjectPrefix+">", func(msg *nats.Msg) {
		switch handleOutcome(ctx, msg.Data, handler) {
		case ack:
			_ = msg.Ack()
		case retry:
			_ = msg.Nak()
		case drop:
			_ = msg.Term()
		}
	},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectPrefix+">", err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

type disposition int

const (
	ack disposition = iota
	retry
	drop
)

func handleOutcome(ctx context.Context, data []byte, handler OutcomeHandler) disposition {
	var outcome domain.AnalysisOutcome
	if err := json.Unmarshal(data, &outcome); err != nil || outcome.SessionID == "" {
		return drop
	}
	if err := handler(ctx, &outcome); err != nil {
		return retry
	}
	return ack
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
