package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vinted/ilo-monitor/pkg/redis"
)

type Sink interface {
	Name() string
	Publish(ctx context.Context, host string, block []byte) error
	Close() error
}

// RedisSink publishes blocks on a channel and optionally keeps the latest
// block of every host under "{channel}:latest:{host}".
type RedisSink struct {
	client    redis.Client
	channel   string
	latestTTL time.Duration
}

func NewRedisSink(client redis.Client, channel string, latestTTL time.Duration) *RedisSink {
	return &RedisSink{client: client, channel: channel, latestTTL: latestTTL}
}

func (s *RedisSink) Name() string {
	return "redis"
}

func (s *RedisSink) Publish(ctx context.Context, host string, block []byte) error {
	if _, err := s.client.Publish(ctx, s.channel, block); err != nil {
		return fmt.Errorf("publishing to %s: %w", s.channel, err)
	}
	if s.latestTTL > 0 {
		if err := s.client.Set(ctx, s.LatestKey(host), block, s.latestTTL); err != nil {
			return fmt.Errorf("storing latest block of %s: %w", host, err)
		}
	}
	return nil
}

func (s *RedisSink) LatestKey(host string) string {
	return s.channel + ":latest:" + host
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

const natsFlushTimeout = 5 * time.Second

type NATSSink struct {
	conn    *nats.Conn
	subject string
}

func NewNATSSink(url, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name("ilo-monitor"),
		nats.Timeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

func (s *NATSSink) Name() string {
	return "nats"
}

// Subject returns the subject blocks of host are published on. Dots and
// wildcards in host are replaced so it stays a single token.
func (s *NATSSink) Subject(host string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, host)
	return s.subject + "." + token
}

func (s *NATSSink) Publish(_ context.Context, host string, block []byte) error {
	subject := s.Subject(host)
	if err := s.conn.Publish(subject, block); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	if err := s.conn.FlushTimeout(natsFlushTimeout); err != nil {
		return fmt.Errorf("flushing %s: %w", subject, err)
	}
	return nil
}

func (s *NATSSink) Close() error {
	return s.conn.Drain()
}

// PublishAll hands block to every sink. Failures are logged and returned
// joined; they never stop the remaining sinks.
func PublishAll(ctx context.Context, logger *slog.Logger, sinks []Sink, host string, block []byte) error {
	var errs []error
	for _, sink := range sinks {
		if err := sink.Publish(ctx, host, block); err != nil {
			logger.Warn("Failed to publish block", "sink", sink.Name(), "host", host, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
