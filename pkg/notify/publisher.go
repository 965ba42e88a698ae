package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/noah-isme/class-scheduler-api/pkg/config"
)

// Publisher delivers a payload to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
	Close() error
}

// NatsPublisher publishes JSON payloads on core NATS subjects under a prefix.
type NatsPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNatsPublisher connects to NATS with unlimited reconnects.
func NewNatsPublisher(cfg config.NATSConfig, logger *zap.Logger) (*NatsPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url,
		nats.Name("class-scheduler-api"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NatsPublisher{conn: conn, prefix: strings.TrimSuffix(cfg.SubjectPrefix, "."), logger: logger}, nil
}

// Subject joins the configured prefix and name.
func (p *NatsPublisher) Subject(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "." + name
}

// Publish marshals payload and publishes it.
func (p *NatsPublisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := p.conn.Publish(p.Subject(subject), data); err != nil {
		return fmt.Errorf("publish to %s: %w", p.Subject(subject), err)
	}
	return nil
}

// Health reports whether the connection is usable.
func (p *NatsPublisher) Health() error {
	if p.conn.IsClosed() {
		return errors.New("nats connection is closed")
	}
	if !p.conn.IsConnected() {
		return errors.New("nats is not connected")
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NatsPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.FlushTimeout(2 * time.Second); err != nil {
		p.logger.Warn("nats flush failed", zap.Error(err))
	}
	p.conn.Close()
	return nil
}

// LogPublisher writes notifications to the logger. Used when NATS is disabled.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher constructs a LogPublisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs the subject and payload.
func (p *LogPublisher) Publish(_ context.Context, subject string, payload interface{}) error {
	p.logger.Debug("notification", zap.String("subject", subject), zap.Any("payload", payload))
	return nil
}

// Close implements Publisher.
func (p *LogPublisher) Close() error { return nil }

// MemoryPublisher records notifications in memory.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
}

// Message is one recorded notification.
type Message struct {
	Subject string
	Payload interface{}
}

// Publish records the notification.
func (p *MemoryPublisher) Publish(_ context.Context, subject string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Message{Subject: subject, Payload: payload})
	return nil
}

// Messages returns a copy of what was published.
func (p *MemoryPublisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

// Close implements Publisher.
func (p *MemoryPublisher) Close() error { return nil }
