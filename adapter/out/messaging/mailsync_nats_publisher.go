package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

const (
	EventStreamName      = "MAILSYNC_EVENTS"
	SubjectRunCompleted  = "mailsync.run.completed"
	eventStreamSubjects  = "mailsync.>"
	eventDedupeWindow    = 10 * time.Minute
	eventRetentionMaxAge = 7 * 24 * time.Hour
)

type jetStream interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// EventPublisher implements out.EventPublisher over NATS JetStream.
type EventPublisher struct {
	nc *nats.Conn
	js jetStream
}

func NewEventPublisher(url string) (*EventPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("mailsync"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	return &EventPublisher{nc: nc, js: js}, nil
}

// EnsureStream creates the event stream if it does not exist.
func (p *EventPublisher) EnsureStream(_ context.Context) error {
	if info, err := p.js.StreamInfo(EventStreamName); err == nil && info != nil {
		return nil
	}

	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:       EventStreamName,
		Subjects:   []string{eventStreamSubjects},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: eventDedupeWindow,
		MaxAge:     eventRetentionMaxAge,
	})
	if err != nil {
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil
		}
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// PublishRunCompleted publishes the event deduplicated by run id.
func (p *EventPublisher) PublishRunCompleted(ctx context.Context, event *domain.RunCompletedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := p.js.Publish(SubjectRunCompleted, payload, nats.MsgId(event.RunID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", SubjectRunCompleted, err)
	}
	return nil
}

// Ping reports whether the NATS connection is up.
func (p *EventPublisher) Ping() error {
	if p.nc == nil || !p.nc.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}

func (p *EventPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

var _ out.EventPublisher = (*EventPublisher)(nil)
