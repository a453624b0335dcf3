package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/go-redis/redis/v8"

	"trade-enginev1/internal/model"
)

const (
	// Streams are trimmed approximately; downstream persistence is the
	// SQLite journal, the stream is a transport.
	resultStreamMaxLen = 50000
	dltStreamMaxLen    = 10000
)

// ResultStream publishes trade lifecycle events to the durable results
// stream. Each record carries the event JSON plus the dedup key so
// downstream consumers can collapse at-least-once redeliveries.
type ResultStream struct {
	client *goredis.Client
	stream string
}

// NewResultStream creates a publisher for the given stream name.
func NewResultStream(client *goredis.Client, stream string) *ResultStream {
	return &ResultStream{client: client, stream: stream}
}

// Publish appends one event to the stream.
func (p *ResultStream) Publish(ctx context.Context, ev model.Event) error {
	err := p.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: p.stream,
		MaxLen: resultStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(ev.JSON()),
			"key":  ev.DedupKey(),
			"kind": string(ev.Kind),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// DeadLetterStream forwards unprocessable records to the ".DLT" sibling of
// the stream they came from. Dead letters are terminal; nothing re-injects
// them into the normal flow.
type DeadLetterStream struct {
	client *goredis.Client
}

// NewDeadLetterStream creates the dead-letter publisher.
func NewDeadLetterStream(client *goredis.Client) *DeadLetterStream {
	return &DeadLetterStream{client: client}
}

// Publish appends the dead letter to "<source>.DLT".
func (p *DeadLetterStream) Publish(ctx context.Context, dl model.DeadLetter) error {
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	stream := dl.Source + ".DLT"
	if err := p.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: dltStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data":     string(data),
			"category": dl.Category,
		},
	}).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}
