package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"caixafacil/backend/internal/domain"
)

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

type RedisTaxRateCache struct {
	client *redis.Client
}

func NewRedisTaxRateCache(client *redis.Client) *RedisTaxRateCache {
	return &RedisTaxRateCache{client: client}
}

func (c *RedisTaxRateCache) Get(ctx context.Context, key string) (*domain.TaxRates, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var rates domain.TaxRates
	if err := json.Unmarshal([]byte(val), &rates); err != nil {
		return nil, false, err
	}
	return &rates, true, nil
}

func (c *RedisTaxRateCache) Set(ctx context.Context, key string, value *domain.TaxRates, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

// RedisClientPrinterRegistry shares client device printer lists across
// instances. Entries expire after ttl without a new registration.
type RedisClientPrinterRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisClientPrinterRegistry(client *redis.Client, ttl time.Duration) *RedisClientPrinterRegistry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisClientPrinterRegistry{client: client, ttl: ttl}
}

func (r *RedisClientPrinterRegistry) Put(ctx context.Context, tenantID string, clientID string, printers []domain.ClientPrinter) error {
	payload, err := json.Marshal(printers)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, ClientPrinterKey(tenantID, clientID), payload, r.ttl).Err()
}

func (r *RedisClientPrinterRegistry) Get(ctx context.Context, tenantID string, clientID string) ([]domain.ClientPrinter, bool, error) {
	val, err := r.client.Get(ctx, ClientPrinterKey(tenantID, clientID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var printers []domain.ClientPrinter
	if err := json.Unmarshal([]byte(val), &printers); err != nil {
		return nil, false, err
	}
	return printers, true, nil
}

func ClientPrinterKey(tenantID string, clientID string) string {
	return "printers:client:" + tenantID + ":" + clientID
}
