// Package events publishes transaction status changes over NATS so
// downstream consumers (dashboards, notifications) can react without
// polling the ledger. Publishing is best-effort and never blocks or
// fails a settlement.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"offramp-backend/internal/config"
	"offramp-backend/internal/models"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// StatusEvent payload published on status transitions
type StatusEvent struct {
	TransactionID    string                   `json:"transaction_id"`
	Status           models.TransactionStatus `json:"status"`
	PreviousStatus   models.TransactionStatus `json:"previous_status,omitempty"`
	SettlementAmount string                   `json:"settlement_amount,omitempty"`
	NGNAmount        float64                  `json:"ngn_amount,omitempty"`
	Error            string                   `json:"error,omitempty"`
	Timestamp        time.Time                `json:"timestamp"`
}

// Publisher NATS status event publisher. A nil *Publisher is valid and
// drops all events, so NATS stays optional.
type Publisher struct {
	conn          *nats.Conn
	subjectPrefix string
}

// NewPublisher connects to NATS. Returns (nil, nil) when no URL is
// configured.
func NewPublisher(cfg config.NATSConfig) (*Publisher, error) {
	if cfg.URL == "" {
		logrus.Info("NATS not configured, status events disabled")
		return nil, nil
	}

	timeout := 10 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(timeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logrus.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logrus.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Publisher{conn: conn, subjectPrefix: cfg.SubjectPrefix}, nil
}

// PublishStatusChange emits an event on offramp.tx.<status>.
func (p *Publisher) PublishStatusChange(event StatusEvent) {
	if p == nil || p.conn == nil {
		return
	}
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		logrus.WithError(err).Warn("failed to marshal status event")
		return
	}

	subject := fmt.Sprintf("%s.tx.%s", p.subjectPrefix, event.Status)
	if err := p.conn.Publish(subject, data); err != nil {
		logrus.WithError(err).WithField("subject", subject).Warn("failed to publish status event")
	}
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
