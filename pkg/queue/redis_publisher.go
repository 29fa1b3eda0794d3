package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"shelfnotes/pkg/domain"
)

const defaultStreamMaxLen = 10000

// RedisStreamPublisher appends summarize requests to a Redis stream.
// Workers read via consumer groups on their side.
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// RedisPublisherConfig configures the stream publisher.
type RedisPublisherConfig struct {
	Addr     string
	Password string
	Stream   string
	MaxLen   int64
}

// NewRedisStreamPublisher builds a Redis-backed publisher.
func NewRedisStreamPublisher(cfg RedisPublisherConfig) (*RedisStreamPublisher, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "shelfnotes:summarize"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &RedisStreamPublisher{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Password,
		}),
		stream: stream,
		maxLen: maxLen,
	}, nil
}

// Publish appends the request to the stream.
func (p *RedisStreamPublisher) Publish(ctx context.Context, req domain.SummarizeRequest) error {
	if req.SectionID == "" || req.BookID == "" {
		return errors.New("summarize request requires sectionId and bookId")
	}
	values := map[string]any{
		"sectionId":   req.SectionID,
		"bookId":      req.BookID,
		"requestedAt": req.RequestedAt.UTC().Format(time.RFC3339Nano),
	}
	if req.Language != "" {
		values["language"] = req.Language
	}
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd summarize request: %w", err)
	}
	return nil
}

// Close releases the redis connection.
func (p *RedisStreamPublisher) Close() error {
	return p.client.Close()
}
