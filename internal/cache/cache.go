package cache

import (
	"context"
	"time"

	"caixafacil/backend/internal/domain"
)

type TaxRateCache interface {
	Get(ctx context.Context, key string) (*domain.TaxRates, bool, error)
	Set(ctx context.Context, key string, value *domain.TaxRates, ttl time.Duration) error
}

type NoopTaxRateCache struct{}

func (NoopTaxRateCache) Get(_ context.Context, _ string) (*domain.TaxRates, bool, error) {
	return nil, false, nil
}

func (NoopTaxRateCache) Set(_ context.Context, _ string, _ *domain.TaxRates, _ time.Duration) error {
	return nil
}

func TaxRateKey(ncm string, uf string) string {
	return "taxrate:" + uf + ":" + ncm
}
