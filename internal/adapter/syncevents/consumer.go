// Package syncevents consumes CRM sync notifications from Kafka. Every
// completed sync batch publishes one event per touched entity; the worker
// coalesces them into a single orchestrator run.
package syncevents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"

	"github.com/talentbruecke/matchengine/internal/domain"
)

// Event is one CRM sync notification.
type Event struct {
	Entity string `json:"entity"` // candidate or job
	ID     string `json:"id"`
	Action string `json:"action"` // created, updated, deleted
	SentAt string `json:"sent_at,omitempty"`
}

// ParseEvent decodes a sync event record payload.
func ParseEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("op=syncevents.ParseEvent: %v: %w", err, domain.ErrInvalidArgument)
	}
	if ev.Entity == "" || ev.ID == "" {
		return Event{}, fmt.Errorf("op=syncevents.ParseEvent: missing entity or id: %w", domain.ErrInvalidArgument)
	}
	return ev, nil
}

// Handler reacts to a batch of sync events. It is called at most once per
// poll, after the whole fetch has been decoded.
type Handler func(ctx context.Context, events []Event)

// Consumer is a consumer-group reader over the sync event topic.
type Consumer struct {
	client  *kgo.Client
	handler Handler
}

// NewConsumer joins the given consumer group on the sync event topic.
func NewConsumer(brokers []string, group, topic string, handler Handler) (*Consumer, error) {
	tracing := kotel.NewKotel(kotel.WithTracer(kotel.NewTracer()))
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.WithHooks(tracing.Hooks()...),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.FetchMaxWait(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=syncevents.NewConsumer: %w", err)
	}
	return &Consumer{client: client, handler: handler}, nil
}

// Run polls until the context is cancelled. Undecodable records are logged
// and skipped; offsets are committed by the client's auto-commit.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return ctx.Err()
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			slog.Error("sync event fetch failed",
				slog.String("topic", topic), slog.Int("partition", int(partition)), slog.Any("error", err))
		})

		var events []Event
		fetches.EachRecord(func(rec *kgo.Record) {
			ev, err := ParseEvent(rec.Value)
			if err != nil {
				slog.Warn("dropping malformed sync event",
					slog.String("topic", rec.Topic), slog.Int64("offset", rec.Offset), slog.Any("error", err))
				return
			}
			events = append(events, ev)
		})
		if len(events) > 0 {
			c.handler(ctx, events)
		}
	}
}

// Close leaves the group and releases the connection.
func (c *Consumer) Close() {
	c.client.Close()
}
