package events

import (
	"context"
	"encoding/json"
	"sync"

	redis "github.com/redis/go-redis/v9"

	"caixafacil/backend/internal/domain"
)

const SaleCompletedChannel = "sale.completed"

// Publisher notifies out-of-process consumers (reports, reminders) about
// committed sales. Publishing is best effort.
type Publisher interface {
	PublishSaleCompleted(ctx context.Context, event domain.SaleCompletedEvent) error
}

type NoopPublisher struct{}

func (NoopPublisher) PublishSaleCompleted(_ context.Context, _ domain.SaleCompletedEvent) error {
	return nil
}

type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) PublishSaleCompleted(ctx context.Context, event domain.SaleCompletedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, SaleCompletedChannel, payload).Err()
}

// RecordingPublisher keeps published events in memory.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []domain.SaleCompletedEvent
}

func (p *RecordingPublisher) PublishSaleCompleted(_ context.Context, event domain.SaleCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *RecordingPublisher) Events() []domain.SaleCompletedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.SaleCompletedEvent, len(p.events))
	copy(out, p.events)
	return out
}
