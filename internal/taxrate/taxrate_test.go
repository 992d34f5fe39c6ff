package taxrate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caixafacil/backend/internal/domain"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string]domain.TaxRates
}

func (c *mapCache) Get(_ context.Context, key string) (*domain.TaxRates, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (c *mapCache) Set(_ context.Context, key string, value *domain.TaxRates, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string]domain.TaxRates)
	}
	c.data[key] = *value
	return nil
}

func TestRatesFallsBackWhenUnconfigured(t *testing.T) {
	c := NewClient("", "", "", nil, nil)

	rates, outcome := c.Rates(context.Background(), "2202.10.00", "SP")
	assert.True(t, outcome.IsFallback())
	assert.Equal(t, "37.85", rates.Total().StringFixed(2))
	assert.Equal(t, SourceFallback, rates.Source)

	rates, outcome = c.Rates(context.Background(), "99999999", "SP")
	assert.True(t, outcome.IsFallback())
	assert.Equal(t, "16.65", rates.Total().StringFixed(2))
}

func TestRatesUsesServiceAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/api/v1/produtos", r.URL.Path)
		assert.Equal(t, "tok", r.URL.Query().Get("token"))
		assert.Equal(t, "22021000", r.URL.Query().Get("codigo"))
		assert.Equal(t, "SP", r.URL.Query().Get("uf"))
		_, _ = w.Write([]byte(`{"Codigo":"22021000","UF":"SP","Nacional":15.5,"Estadual":18,"Municipal":0,"Fonte":"IBPT"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", "11222333000181", &mapCache{}, nil)
	for range 2 {
		rates, outcome := c.Rates(context.Background(), "22021000", "sp")
		require.False(t, outcome.IsFallback())
		assert.Equal(t, "33.50", rates.Total().StringFixed(2))
		assert.Equal(t, SourceService, rates.Source)
	}
	assert.EqualValues(t, 1, hits.Load())
}

func TestRatesDegradesOnUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	rates, outcome := NewClient(srv.URL, "bad", "", nil, nil).Rates(context.Background(), "09012100", "MG")
	assert.True(t, outcome.IsFallback())
	assert.Contains(t, outcome.Reason, "401")
	assert.Equal(t, "16.52", rates.Total().StringFixed(2))
}

type fixedLookup struct {
	rates   map[string]domain.TaxRates
	degrade map[string]bool
}

func (f fixedLookup) Rates(_ context.Context, ncm string, uf string) (domain.TaxRates, domain.Outcome) {
	if f.degrade[ncm] {
		return FallbackRates(ncm, uf), domain.Fallback("offline")
	}
	return f.rates[ncm], domain.Primary()
}

func TestApproximateSumsLines(t *testing.T) {
	lookup := fixedLookup{
		rates: map[string]domain.TaxRates{
			"22021000": {Federal: decimal.NewFromInt(10), State: decimal.NewFromInt(20)},
		},
		degrade: map[string]bool{"99999999": true},
	}
	lines := []domain.SaleLine{
		{NCM: "22021000", TotalCents: 1000},
		{NCM: "99999999", TotalCents: 2000},
	}

	burden := Approximate(context.Background(), lookup, lines, "SP")
	assert.True(t, burden.Outcome.IsFallback())
	assert.Equal(t, SourceFallback, burden.Source)
	// 10.00*10% + 20.00*16.65%
	assert.Equal(t, "4.33", burden.Federal.StringFixed(2))
	assert.Equal(t, "2.00", burden.State.StringFixed(2))
	assert.Equal(t, "6.33", burden.Total().StringFixed(2))
	assert.Equal(t, "21.10", burden.Percent(decimal.NewFromInt(30)).StringFixed(2))
}

func TestApproximatePrimaryWhenEveryLineResolves(t *testing.T) {
	lookup := fixedLookup{rates: map[string]domain.TaxRates{"10063021": {Federal: decimal.NewFromInt(5)}}}
	burden := Approximate(context.Background(), lookup, []domain.SaleLine{{NCM: "10063021", TotalCents: 2890}}, "SP")
	assert.False(t, burden.Outcome.IsFallback())
	assert.Equal(t, "1.45", burden.Total().StringFixed(2))
}
