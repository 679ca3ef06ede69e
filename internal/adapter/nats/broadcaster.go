package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Strob0t/prdforge/internal/logger"
)

// Publisher sends raw bytes to a subject. *Bus implements it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Envelope wraps every published event.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Time      time.Time       `json:"time"`
	Payload   json.RawMessage `json:"payload"`
}

// Broadcaster publishes progress events as JSON envelopes to
// "<prefix>.<eventType>". Failures are logged and never returned.
type Broadcaster struct {
	pub    Publisher
	prefix string
	log    *slog.Logger
	now    func() time.Time
}

// NewBroadcaster creates a Broadcaster on pub.
func NewBroadcaster(pub Publisher, prefix string, log *slog.Logger) *Broadcaster {
	return &Broadcaster{pub: pub, prefix: prefix, log: log, now: time.Now}
}

// BroadcastEvent implements broadcast.Broadcaster.
func (b *Broadcaster) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.log.WarnContext(ctx, "event marshal failed", "type", eventType, "error", err)
		return
	}
	data, err := json.Marshal(Envelope{
		Type:      eventType,
		RequestID: logger.RequestID(ctx),
		Time:      b.now().UTC(),
		Payload:   raw,
	})
	if err != nil {
		b.log.WarnContext(ctx, "event marshal failed", "type", eventType, "error", err)
		return
	}

	subject := b.prefix + "." + eventType
	if err := b.pub.Publish(context.WithoutCancel(ctx), subject, data); err != nil {
		b.log.WarnContext(ctx, "event publish failed", "subject", subject, "error", err)
	}
}
