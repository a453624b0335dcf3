package redis

import (
	"context"
	"encoding/json"
	"time"

	"trade-enginev1/internal/model"
)

// CandleHandler returns a stream handler that decodes closed-candle records
// and hands them to the trading loop. The record is acknowledged only after
// the hand-off, so a crash between read and hand-off redelivers the candle.
// Undecodable records are dead-lettered and acknowledged; redelivering a
// parse failure can never fix it.
func CandleHandler(out chan<- model.Candle, dlq model.DeadLetterSink) Handler {
	return func(ctx context.Context, stream, id string, payload []byte) error {
		var c model.Candle
		if err := json.Unmarshal(payload, &c); err != nil {
			deadLetter(ctx, dlq, stream, id, payload, "PARSE_FAILURE", err.Error())
			return nil
		}
		if c.ScripCode == "" || c.Start.IsZero() {
			deadLetter(ctx, dlq, stream, id, payload, "VALIDATION_FAILURE", "candle missing scrip or window")
			return nil
		}
		select {
		case out <- c:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func deadLetter(ctx context.Context, dlq model.DeadLetterSink, stream, id string, payload []byte, category, msg string) {
	if dlq == nil {
		return
	}
	_ = dlq.Publish(ctx, model.DeadLetter{
		Source:   stream,
		Offset:   id,
		Payload:  payload,
		Category: category,
		Message:  msg,
		At:       time.Now(),
	})
}
