// Package relay is the transport collaborator: it mirrors published records
// into Redis and announces them on a per-lineage channel, so other accord
// instances (and interested clients) learn about new revisions without
// polling Postgres. The reconciliation engine never talks to the relay
// directly; it only sees the record sets fetched from it.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"accord/api/internal/record"
)

const (
	lineagePrefix  = "accord:lineage:"
	announcePrefix = "accord:announce:"
)

type Relay struct {
	client *redis.Client
}

func New(redisURL string) (*Relay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Relay{client: client}, nil
}

// NewWithClient creates a relay from an existing Redis client.
func NewWithClient(client *redis.Client) *Relay {
	return &Relay{client: client}
}

// Publish mirrors a record into the lineage hash and announces it. The
// record id keys the hash field, so republishing the same record is
// idempotent: observers see one entry per record no matter how many relays
// carried it.
func (r *Relay) Publish(ctx context.Context, rec record.Record) error {
	if rec.RecordID == "" {
		return fmt.Errorf("refusing to publish record without id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := r.client.HSet(ctx, lineagePrefix+rec.CorrelationTag, rec.RecordID, data).Err(); err != nil {
		return fmt.Errorf("mirror record: %w", err)
	}
	if err := r.client.Publish(ctx, announcePrefix+rec.CorrelationTag, rec.RecordID).Err(); err != nil {
		return fmt.Errorf("announce record: %w", err)
	}
	return nil
}

// Fetch returns every mirrored record for a lineage. The set may be partial
// or stale relative to other stores; callers reduce whatever they get.
// Entries that fail to decode are skipped rather than failing the fetch.
func (r *Relay) Fetch(ctx context.Context, tag string) ([]record.Record, error) {
	entries, err := r.client.HGetAll(ctx, lineagePrefix+tag).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch lineage: %w", err)
	}
	records := make([]record.Record, 0, len(entries))
	for _, raw := range entries {
		var rec record.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Subscribe delivers the record ids announced for a lineage until ctx is
// cancelled. The caller fetches and re-reduces on each announcement.
func (r *Relay) Subscribe(ctx context.Context, tag string) (<-chan string, error) {
	sub := r.client.Subscribe(ctx, announcePrefix+tag)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe to lineage: %w", err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *Relay) Close() error {
	return r.client.Close()
}

func (r *Relay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
