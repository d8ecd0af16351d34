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
	CleanupStreamName  = "CLEANUP"
	CleanupSubjectBase = "cleanup"
	EventsStreamName   = "EVENTS"
	EventsSubjectBase  = "events"
)

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        CleanupStreamName,
			Subjects:    []string{CleanupSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      7 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Duplicates:  time.Minute,
			Description: "Object deletions left over after metadata removal",
		},
		{
			Name:        EventsStreamName,
			Subjects:    []string{EventsSubjectBase + ".>"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      time.Hour,
			MaxMsgs:     100000,
			Storage:     jetstream.FileStorage,
			Description: "Folder change notifications",
		},
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishCleanup queues an object deletion for the worker.
func (p *Producer) PublishCleanup(ctx context.Context, task models.CleanupTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal cleanup task: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", CleanupSubjectBase, task.FolderID)
	msgID := fmt.Sprintf("%s-%s-%d", task.FolderID, task.Reason, task.EnqueuedAt.UnixNano())
	if _, err := p.js.Publish(ctx, subject, payload, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("publish cleanup task: %w", err)
	}
	return nil
}

// PublishFolderEvent announces a folder change to every API instance.
func (p *Producer) PublishFolderEvent(ctx context.Context, ev models.FolderEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal folder event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", EventsSubjectBase, ev.FolderID)
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish folder event: %w", err)
	}
	return nil
}

// QueueDepth returns the number of pending messages in a stream.
func (p *Producer) QueueDepth(ctx context.Context, streamName string) (uint64, error) {
	stream, err := p.js.Stream(ctx, streamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}

// Nop drops everything it is given. It stands in for the producer when the
// service runs without NATS.
type Nop struct{}

func (Nop) PublishCleanup(_ context.Context, task models.CleanupTask) error {
	slog.Warn("cleanup queue disabled, leaving objects for the sweeper", "keys", len(task.StorageKeys))
	return nil
}

func (Nop) PublishFolderEvent(context.Context, models.FolderEvent) error { return nil }
