// Package feed keeps a bounded stream of recent attendance activity for dashboards.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCapacity bounds every backend.
const DefaultCapacity = 200

// Event is one ledger write as seen by the dashboard.
type Event struct {
	SessionID string    `json:"session_id"`
	CourseID  string    `json:"course_id"`
	StudentID string    `json:"student_id"`
	At        time.Time `json:"at"`
	Manual    bool      `json:"manual"`
	MarkedBy  string    `json:"marked_by,omitempty"`
}

// Feed is the abstraction over different backends.
type Feed interface {
	Append(ctx context.Context, evt Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// Memory is a ring buffer for single-process deployments and tests.
type Memory struct {
	mu   sync.Mutex
	buf  []Event
	next int
	full bool
}

// NewMemory creates a ring holding at most capacity events.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{buf: make([]Event, capacity)}
}

// Append records an event, evicting the oldest when full.
func (m *Memory) Append(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf[m.next] = evt
	m.next = (m.next + 1) % len(m.buf)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (m *Memory) Recent(_ context.Context, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	size := m.next
	if m.full {
		size = len(m.buf)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]Event, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (m.next - 1 - i + len(m.buf)) % len(m.buf)
		out = append(out, m.buf[idx])
	}
	return out, nil
}

// Redis keeps the stream in a capped list using LPUSH/LTRIM.
type Redis struct {
	client   *redis.Client
	key      string
	capacity int
}

// NewRedis builds a feed stored under key.
func NewRedis(client *redis.Client, key string, capacity int) *Redis {
	if key == "" {
		key = "rollcall:activity"
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Redis{client: client, key: key, capacity: capacity}
}

// Append pushes the event and trims the list in one transaction.
func (r *Redis) Append(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode feed event: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, data)
	pipe.LTrim(ctx, r.key, 0, int64(r.capacity-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append feed event: %w", err)
	}
	return nil
}

// Recent reads the head of the list, newest first.
func (r *Redis) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > r.capacity {
		limit = r.capacity
	}
	vals, err := r.client.LRange(ctx, r.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	out := make([]Event, 0, len(vals))
	for _, v := range vals {
		var evt Event
		if err := json.Unmarshal([]byte(v), &evt); err != nil {
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}
