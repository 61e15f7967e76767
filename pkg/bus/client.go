package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client publishes and follows run events for one namespace.
// It is safe for concurrent use.
type Client struct {
	rdb       *redis.Client
	namespace string
}

// NewClient creates a bus client. The namespace must not be empty.
func NewClient(redisOpts *redis.Options, namespace string) (*Client, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	return &Client{
		rdb:       redis.NewClient(redisOpts),
		namespace: namespace,
	}, nil
}

// Dial parses a redis:// URL and creates a client.
func Dial(url, namespace string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return NewClient(opts, namespace)
}

// Namespace returns the namespace the client operates in.
func (c *Client) Namespace() string {
	return c.namespace
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Publish stores the event as the run's latest status and broadcasts it.
// The status write and the index update happen in one transaction.
func (c *Client) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	counts, err := json.Marshal(ev.Counts)
	if err != nil {
		return fmt.Errorf("failed to marshal counts: %w", err)
	}

	key := RunKey(c.namespace, ev.RunID)
	at := ev.At.UTC().Format(time.RFC3339Nano)
	fields := map[string]interface{}{
		"job":        ev.Job,
		"state":      ev.State,
		"updated_at": at,
		"counts":     string(counts),
	}
	if len(ev.Report) > 0 {
		fields["report"] = string(ev.Report)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "started_at", at)
		pipe.HSet(ctx, key, fields)
		pipe.ZAddNX(ctx, RunsKey(c.namespace), redis.Z{
			Score:  float64(ev.At.UnixNano()),
			Member: ev.RunID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record run status: %w", err)
	}

	if err := c.rdb.Publish(ctx, EventsChannel(c.namespace), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish run event: %w", err)
	}
	return nil
}

// GetRun returns the latest stored status of a run.
// Returns (nil, redis.Nil) if the run is unknown. Use IsNotFound to check.
func (c *Client) GetRun(ctx context.Context, runID string) (*RunStatus, error) {
	hash, err := c.rdb.HGetAll(ctx, RunKey(c.namespace, runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run status: %w", err)
	}
	if len(hash) == 0 {
		return nil, redis.Nil
	}

	status := &RunStatus{
		RunID: runID,
		Job:   hash["job"],
		State: hash["state"],
	}
	if status.StartedAt, err = parseTime(hash["started_at"]); err != nil {
		return nil, fmt.Errorf("invalid started_at for run %s: %w", runID, err)
	}
	if status.UpdatedAt, err = parseTime(hash["updated_at"]); err != nil {
		return nil, fmt.Errorf("invalid updated_at for run %s: %w", runID, err)
	}
	if raw := hash["counts"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &status.Counts); err != nil {
			return nil, fmt.Errorf("invalid counts for run %s: %w", runID, err)
		}
	}
	if raw := hash["report"]; raw != "" {
		status.Report = json.RawMessage(raw)
	}
	return status, nil
}

// RecentRuns returns up to limit runs, newest first.
func (c *Client) RecentRuns(ctx context.Context, limit int) ([]*RunStatus, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := c.rdb.ZRevRange(ctx, RunsKey(c.namespace), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*RunStatus, 0, len(ids))
	for _, id := range ids {
		status, err := c.GetRun(ctx, id)
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		runs = append(runs, status)
	}
	return runs, nil
}

// ScanRuns returns the ids of recorded runs that start with prefix, newest
// first.
func (c *Client) ScanRuns(ctx context.Context, prefix string) ([]string, error) {
	ids, err := c.rdb.ZRevRange(ctx, RunsKey(c.namespace), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	var matches []string
	for _, id := range ids {
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}
	return matches, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Subscription is an active subscription to run events.
// Caller must call Close() when done.
type Subscription struct {
	events <-chan Event
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of run events. It is closed when the
// subscription is closed or its context is cancelled.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Errors returns non-fatal subscription errors such as undecodable
// messages. The subscription continues after an error.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Subscribe follows run events for this namespace. It returns once Redis has
// confirmed the subscription so no event published afterwards is missed.
//
// Events are delivered on a buffered channel (size 10).
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, EventsChannel(c.namespace))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to run events: %w", err)
	}

	eventsChan := make(chan Event, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal run event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound reports whether err is a Redis "key not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
