// Package nats publishes audit entries to a JetStream subject for downstream
// consumers.
package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/go-api-guard/internal/domain"
)

// JetStream is the publishing half of nats.JetStreamContext.
type JetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// AuditPublisher is an audit sink. Each message carries the audit ID as its
// JetStream message ID, so the stream drops redelivered duplicates.
type AuditPublisher struct {
	conn    *nats.Conn
	js      JetStream
	subject string
}

// Connect dials url and binds a JetStream context.
func Connect(url, subject string, opts ...nats.Option) (*AuditPublisher, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &AuditPublisher{conn: nc, js: js, subject: subject}, nil
}

func NewAuditPublisher(js JetStream, subject string) *AuditPublisher {
	return &AuditPublisher{js: js, subject: subject}
}

func (p *AuditPublisher) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w: %v", domain.ErrValidation, err)
	}
	if _, err := p.js.Publish(p.subject, data, nats.MsgId(entry.AuditID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish audit %s: %w", entry.AuditID, err)
	}
	return nil
}

// Close drains the connection when the publisher owns one.
func (p *AuditPublisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
