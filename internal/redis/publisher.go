package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-capacity-engine/internal/notify"
)

// Publisher sends engine events over Redis pub/sub. Notification delivery
// (SMS, voice) subscribes to these channels elsewhere.
type Publisher struct {
	client *redis.Client
}

var _ notify.Sink = (*Publisher)(nil)

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, ev notify.Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, ev.Channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", ev.Channel, err)
	}
	return nil
}
