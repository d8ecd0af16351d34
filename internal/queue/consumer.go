package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/snapmatch/internal/models"
)

const (
	cleanupMaxDeliver = 5
	cleanupRetryDelay = 30 * time.Second
)

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeCleanup processes cleanup tasks with workerCount goroutines. A task
// whose handler fails is redelivered after a delay, up to cleanupMaxDeliver
// times.
func (c *Consumer) ConsumeCleanup(ctx context.Context, consumerName string, handler func(context.Context, models.CleanupTask) error, workerCount int) error {
	stream, err := c.js.Stream(ctx, CleanupStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", CleanupStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       time.Minute,
		MaxDeliver:    cleanupMaxDeliver,
		FilterSubject: CleanupSubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)
	go fetchLoop(ctx, cons, workerCount, msgCh)

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				dispatch(ctx, msg, handler, cleanupRetryDelay, "worker", workerID)
			}
		}(i)
	}

	slog.Info("cleanup consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// ConsumeEvents delivers folder events published after the consumer starts.
func (c *Consumer) ConsumeEvents(ctx context.Context, consumerName string, handler func(context.Context, models.FolderEvent) error) error {
	stream, err := c.js.Stream(ctx, EventsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", EventsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:              consumerName,
		Durable:           consumerName,
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           10 * time.Second,
		MaxDeliver:        3,
		FilterSubject:     EventsSubjectBase + ".>",
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: 10 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, 20)
	go fetchLoop(ctx, cons, 10, msgCh)
	go func() {
		for msg := range msgCh {
			dispatch(ctx, msg, handler, 0, "consumer", consumerName)
		}
	}()

	slog.Info("event consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}

// fetchLoop pulls batches into out until ctx is done, then closes out.
func fetchLoop(ctx context.Context, cons jetstream.Consumer, batchSize int, out chan<- jetstream.Msg) {
	defer close(out)
	for {
		if ctx.Err() != nil {
			return
		}

		batch, err := cons.Fetch(batchSize, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("fetch error", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for msg := range batch.Messages() {
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// dispatch decodes msg as T and acknowledges according to the handler result.
// Undecodable payloads are terminated rather than redelivered.
func dispatch[T any](ctx context.Context, msg jetstream.Msg, handler func(context.Context, T) error, retryDelay time.Duration, logArgs ...any) {
	var v T
	if err := json.Unmarshal(msg.Data(), &v); err != nil {
		slog.Error("drop malformed message", append(logArgs, "subject", msg.Subject(), "error", err)...)
		_ = msg.Term()
		return
	}

	if err := handler(ctx, v); err != nil {
		slog.Error("handle message", append(logArgs, "subject", msg.Subject(), "error", err)...)
		if retryDelay > 0 {
			_ = msg.NakWithDelay(retryDelay)
		} else {
			_ = msg.Nak()
		}
		return
	}
	_ = msg.Ack()
}
