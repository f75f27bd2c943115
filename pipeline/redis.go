package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/aluiziolira/bookharvest/models"
)

// RedisWriter appends one stream entry per book. Each entry carries the run
// id and the book as JSON under the "book" field.
type RedisWriter struct {
	ctx     context.Context
	client  *redis.Client
	stream  string
	runID   string
	added   int
	written int
	mu      sync.Mutex
}

// NewRedisWriter connects to addr and checks the server is reachable.
func NewRedisWriter(ctx context.Context, addr string, db int, stream, runID string) (*RedisWriter, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &RedisWriter{
		ctx:    ctx,
		client: client,
		stream: stream,
		runID:  runID,
	}, nil
}

// Write pipelines one XADD per book.
func (rw *RedisWriter) Write(books []models.Book) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	pipe := rw.client.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(books))
	for _, book := range books {
		payload, err := json.Marshal(withProductInfo(book))
		if err != nil {
			return fmt.Errorf("encode book: %w", err)
		}
		cmds = append(cmds, pipe.XAdd(rw.ctx, &redis.XAddArgs{
			Stream: rw.stream,
			Values: map[string]interface{}{
				"run_id": rw.runID,
				"book":   string(payload),
			},
		}))
	}
	rw.written += len(books)
	if _, err := pipe.Exec(rw.ctx); err != nil {
		return fmt.Errorf("xadd %s: %w", rw.stream, err)
	}
	for _, cmd := range cmds {
		if cmd.Err() == nil {
			rw.added++
		}
	}
	return nil
}

// Close closes the client.
func (rw *RedisWriter) Close() error {
	return rw.client.Close()
}

// Validate checks every book got a stream id.
func (rw *RedisWriter) Validate() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.added != rw.written {
		return fmt.Errorf("redis stream %s accepted %d of %d books", rw.stream, rw.added, rw.written)
	}
	return nil
}
