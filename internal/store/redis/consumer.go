package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Handler processes one stream record. A nil return acknowledges the record;
// an error leaves it in the pending entries list for redelivery. Handlers
// decide for themselves whether a bad payload is worth redelivering (usually
// it is not: parse failures go to the dead-letter stream and return nil).
type Handler func(ctx context.Context, stream, id string, payload []byte) error

// ConsumerConfig configures a consumer-group stream consumer.
type ConsumerConfig struct {
	Group    string
	Consumer string // unique per process, e.g. hostname
	Streams  []string
	Count    int64         // batch size per read, default 100
	Block    time.Duration // XREADGROUP block, default 2s

	// PEL reclaim: steal entries stuck with dead consumers.
	ReclaimInterval time.Duration // default 60s
	ReclaimMinIdle  time.Duration // default 2m
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Count <= 0 {
		c.Count = 100
	}
	if c.Block <= 0 {
		c.Block = 2 * time.Second
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = time.Minute
	}
	if c.ReclaimMinIdle <= 0 {
		c.ReclaimMinIdle = 2 * time.Minute
	}
	return c
}

// Consumer reads records from Redis Streams through a consumer group with
// at-least-once delivery: records are acknowledged only after the handler
// returns nil, and a crash leaves them pending for recovery on restart.
type Consumer struct {
	client *goredis.Client
	cfg    ConsumerConfig

	// OnLag reports the pending-entry count per stream (for metrics).
	OnLag func(stream string, pending int64)
}

// NewConsumer creates a Consumer over an established client.
func NewConsumer(client *goredis.Client, cfg ConsumerConfig) *Consumer {
	return &Consumer{client: client, cfg: cfg.withDefaults()}
}

// EnsureGroups creates the consumer group on every stream, starting at "$"
// (new messages only) for fresh groups. Existing groups are left untouched.
func (c *Consumer) EnsureGroups(ctx context.Context) error {
	for _, stream := range c.cfg.Streams {
		err := c.client.XGroupCreateMkStream(ctx, stream, c.cfg.Group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// Run consumes until ctx is cancelled. Pending records from a previous crash
// are recovered first, then the live XREADGROUP loop takes over. A PEL
// reclaimer runs alongside, stealing records stuck with dead consumers.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	if err := c.RecoverPending(ctx, h); err != nil {
		return fmt.Errorf("recover pending: %w", err)
	}
	go c.reclaimLoop(ctx, h)

	args := make([]string, len(c.cfg.Streams)*2)
	for i, s := range c.cfg.Streams {
		args[i] = s
		args[len(c.cfg.Streams)+i] = ">"
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := c.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  args,
			Count:    c.cfg.Count,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			slog.Error("xreadgroup failed", "group", c.cfg.Group, "err", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range results {
			for _, msg := range stream.Messages {
				c.process(ctx, h, stream.Stream, msg)
			}
		}
	}
}

// process runs the handler for one record and acknowledges on success.
func (c *Consumer) process(ctx context.Context, h Handler, stream string, msg goredis.XMessage) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		// Malformed envelope: ack to avoid a poison pill.
		c.client.XAck(ctx, stream, c.cfg.Group, msg.ID)
		return
	}
	if err := h(ctx, stream, msg.ID, []byte(data)); err != nil {
		slog.Warn("handler failed, leaving record pending", "stream", stream, "id", msg.ID, "err", err)
		return
	}
	c.client.XAck(ctx, stream, c.cfg.Group, msg.ID)
}

// RecoverPending replays this consumer's unacknowledged records from a
// previous run through the handler.
func (c *Consumer) RecoverPending(ctx context.Context, h Handler) error {
	for _, stream := range c.cfg.Streams {
		for {
			pending, err := c.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream: stream,
				Group:  c.cfg.Group,
				Start:  "-",
				End:    "+",
				Count:  c.cfg.Count,
			}).Result()
			if err != nil || len(pending) == 0 {
				break
			}

			ids := make([]string, len(pending))
			for i, p := range pending {
				ids[i] = p.ID
			}
			claimed, err := c.client.XClaim(ctx, &goredis.XClaimArgs{
				Stream:   stream,
				Group:    c.cfg.Group,
				Consumer: c.cfg.Consumer,
				MinIdle:  0,
				Messages: ids,
			}).Result()
			if err != nil {
				slog.Error("xclaim failed during recovery", "stream", stream, "err", err)
				break
			}
			if len(claimed) > 0 {
				slog.Info("recovering pending records", "stream", stream, "count", len(claimed))
			}
			for _, msg := range claimed {
				c.process(ctx, h, stream, msg)
			}
			if len(claimed) < len(ids) {
				break
			}
		}
	}
	return nil
}

// reclaimLoop periodically steals records stuck in other consumers' pending
// lists (a crashed replica that never acked) and reprocesses them here.
func (c *Consumer) reclaimLoop(ctx context.Context, h Handler) {
	ticker := time.NewTicker(c.cfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, stream := range c.cfg.Streams {
				c.reclaimStream(ctx, h, stream)
				c.reportLag(ctx, stream)
			}
		}
	}
}

func (c *Consumer) reclaimStream(ctx context.Context, h Handler, stream string) {
	pending, err := c.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  c.cfg.Group,
		Start:  "-",
		End:    "+",
		Count:  50,
		Idle:   c.cfg.ReclaimMinIdle,
	}).Result()
	if err != nil || len(pending) == 0 {
		return
	}

	var staleIDs []string
	for _, p := range pending {
		if p.Consumer != c.cfg.Consumer {
			staleIDs = append(staleIDs, p.ID)
		}
	}
	if len(staleIDs) == 0 {
		return
	}

	claimed, err := c.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		MinIdle:  c.cfg.ReclaimMinIdle,
		Messages: staleIDs,
	}).Result()
	if err != nil {
		slog.Error("stale reclaim failed", "stream", stream, "err", err)
		return
	}
	if len(claimed) > 0 {
		slog.Info("reclaimed stale records", "stream", stream, "count", len(claimed))
	}
	for _, msg := range claimed {
		c.process(ctx, h, stream, msg)
	}
}

func (c *Consumer) reportLag(ctx context.Context, stream string) {
	if c.OnLag == nil {
		return
	}
	p, err := c.client.XPending(ctx, stream, c.cfg.Group).Result()
	if err != nil {
		return
	}
	c.OnLag(stream, p.Count)
}
