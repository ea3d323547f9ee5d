package natsutil

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nuid"

	"github.com/cketlive/scoring/internal/messaging"
)

type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
}

func ConnectJetStream(url string, subjects messaging.Subjects) (*Client, error) {
	conn, err := nats.Connect(url, nats.Name("scoring-api"))
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	if err := messaging.EnsureStreams(js, subjects); err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	return &Client{Conn: conn, JS: js}, nil
}

func ConnectJetStreamWithRetry(ctx context.Context, url string, subjects messaging.Subjects, timeout time.Duration) (*Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ConnectJetStream(url, subjects)
		if err == nil {
			return client, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("connect jetstream timeout after %s: %w", timeout, lastErr)
}

func (c *Client) Close() {
	if c == nil || c.Conn == nil {
		return
	}
	_ = c.Conn.Drain()
	c.Conn.Close()
}

// Ping reports whether the connection is usable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.Conn == nil {
		return fmt.Errorf("nats: not connected")
	}
	if status := c.Conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats: connection %s", status)
	}
	return c.Conn.FlushWithContext(ctx)
}

type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// JetStreamPublisher publishes synchronously: Publish returns once the
// stream acknowledged the message, or with the error that prevented it.
type JetStreamPublisher struct {
	JS nats.JetStreamContext
}

func (p JetStreamPublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	_, err := p.JS.Publish(subject, payload, nats.Context(ctx), nats.MsgId(nuid.Next()))
	return err
}
