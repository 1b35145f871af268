// Package relay forwards catalog update stream entries to Kafka.
//
// Each tick the relay claims a batch of pending entries, publishes one
// message per entry keyed by product id, and acks every entry as done or
// failed depending on whether its message was written.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/JonMunkholm/catalogsync/internal/core"
	"github.com/JonMunkholm/catalogsync/internal/metrics"
)

// Stream is the part of core.Service the relay consumes.
type Stream interface {
	GetPendingEvents(ctx context.Context, limit int, minPriority *int) ([]core.StreamEvent, error)
	AckEvents(ctx context.Context, ids []int64, status, errText string) (int64, error)
}

// Writer publishes messages. *kafka.Writer satisfies it.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Options tunes the relay loop.
type Options struct {
	Interval  time.Duration
	BatchSize int
	// MinPriority skips entries below it; 0 relays everything.
	MinPriority int
}

// Relay moves stream entries to a Kafka topic.
type Relay struct {
	stream Stream
	writer Writer
	opts   Options
}

// NewWriter builds the Kafka writer used in production.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireOne,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}
}

func New(stream Stream, writer Writer, opts Options) *Relay {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Relay{stream: stream, writer: writer, opts: opts}
}

// Run relays batches until ctx is cancelled, then closes the writer.
// A full batch is followed immediately by another one.
func (r *Relay) Run(ctx context.Context) {
	slog.Info("relay started", "interval", r.opts.Interval.String(), "batch_size", r.opts.BatchSize)
	defer func() {
		if err := r.writer.Close(); err != nil {
			slog.Warn("relay writer close failed", "error", err)
		}
		slog.Info("relay stopped")
	}()

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		for {
			res, err := r.Flush(ctx)
			if err != nil {
				slog.Error("relay flush failed", "error", err)
				break
			}
			if res.Claimed < r.opts.BatchSize || ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// FlushResult counts one batch.
type FlushResult struct {
	Claimed   int
	Published int
	Failed    int
}

// Flush claims, publishes and acks a single batch.
func (r *Relay) Flush(ctx context.Context) (FlushResult, error) {
	var minPriority *int
	if r.opts.MinPriority > 0 {
		minPriority = &r.opts.MinPriority
	}

	events, err := r.stream.GetPendingEvents(ctx, r.opts.BatchSize, minPriority)
	if err != nil {
		return FlushResult{}, err
	}
	res := FlushResult{Claimed: len(events)}
	if len(events) == 0 {
		return res, nil
	}

	batchID := uuid.NewString()
	logger := slog.With("batch_id", batchID)

	// Entries that cannot be encoded are acked failed with the rest.
	msgs := make([]kafka.Message, 0, len(events))
	sent := make([]core.StreamEvent, 0, len(events))
	unencodable := make(map[string][]int64)
	for _, ev := range events {
		msg, err := newMessage(ev, batchID)
		if err != nil {
			text := "encode message: " + err.Error()
			unencodable[text] = append(unencodable[text], ev.ID)
			continue
		}
		msgs = append(msgs, msg)
		sent = append(sent, ev)
	}

	// Claimed entries must be acked even if the caller is shutting down.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	var werr error
	if len(msgs) > 0 {
		werr = r.writer.WriteMessages(ctx, msgs...)
	}
	done, failed := splitResults(sent, werr)
	for text, ids := range unencodable {
		failed[text] = append(failed[text], ids...)
	}

	if len(done) > 0 {
		if _, err := r.stream.AckEvents(ackCtx, done, core.StreamDone, ""); err != nil {
			return res, err
		}
	}
	for errText, ids := range failed {
		if _, err := r.stream.AckEvents(ackCtx, ids, core.StreamFailed, errText); err != nil {
			return res, err
		}
		res.Failed += len(ids)
	}
	res.Published = len(done)

	metrics.RelayPublished("published", res.Published)
	metrics.RelayPublished("failed", res.Failed)

	if res.Failed > 0 {
		logger.Warn("relay batch partially failed",
			"claimed", res.Claimed,
			"published", res.Published,
			"failed", res.Failed,
			"error", werr,
		)
	} else {
		logger.Info("relay batch published", "count", res.Published)
	}
	return res, nil
}

// message is the JSON value written for each entry.
type message struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	EcommerceID string          `json:"ecommerce_id"`
	Priority    int32           `json:"priority"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

func newMessage(ev core.StreamEvent, batchID string) (kafka.Message, error) {
	body, err := json.Marshal(message{
		ID:          ev.ID,
		ProductID:   ev.ProductID,
		EcommerceID: ev.EcommerceID,
		Priority:    ev.Priority,
		Payload:     ev.Payload,
		CreatedAt:   ev.CreatedAt,
	})
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.ProductID, 10)),
		Value: body,
		Headers: []kafka.Header{
			{Key: "stream_id", Value: []byte(strconv.FormatInt(ev.ID, 10))},
			{Key: "claim_token", Value: []byte(ev.ClaimToken)},
			{Key: "batch_id", Value: []byte(batchID)},
		},
	}, nil
}

// splitResults sorts entry ids into published ones and failed ones grouped
// by error text. kafka.WriteErrors reports failures per message; any other
// error fails the whole batch.
func splitResults(events []core.StreamEvent, err error) ([]int64, map[string][]int64) {
	failed := make(map[string][]int64)
	if err == nil {
		ids := make([]int64, len(events))
		for i, ev := range events {
			ids[i] = ev.ID
		}
		return ids, failed
	}

	var werrs kafka.WriteErrors
	if !errors.As(err, &werrs) || len(werrs) != len(events) {
		for _, ev := range events {
			failed[err.Error()] = append(failed[err.Error()], ev.ID)
		}
		return nil, failed
	}

	var done []int64
	for i, ev := range events {
		if werrs[i] == nil {
			done = append(done, ev.ID)
			continue
		}
		failed[werrs[i].Error()] = append(failed[werrs[i].Error()], ev.ID)
	}
	return done, failed
}
