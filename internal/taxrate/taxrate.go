package taxrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"caixafacil/backend/internal/cache"
	"caixafacil/backend/internal/domain"
)

const (
	SourceService  = "IBPT"
	SourceFallback = "tabela media por capitulo NCM"

	cacheTTL = 24 * time.Hour
)

var errNotConfigured = errors.New("servico de aliquotas nao configurado")

// Lookup resolves approximate tax percentages for a product classification.
type Lookup interface {
	Rates(ctx context.Context, ncm string, uf string) (domain.TaxRates, domain.Outcome)
}

type Client struct {
	baseURL string
	token   string
	cnpj    string
	http    *http.Client
	cache   cache.TaxRateCache
	logger  *zap.Logger
}

func NewClient(baseURL string, token string, cnpj string, c cache.TaxRateCache, logger *zap.Logger) *Client {
	if c == nil {
		c = cache.NoopTaxRateCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		cnpj:    cnpj,
		http:    &http.Client{Timeout: 5 * time.Second},
		cache:   c,
		logger:  logger,
	}
}

type serviceReply struct {
	Codigo    string          `json:"Codigo"`
	UF        string          `json:"UF"`
	Nacional  decimal.Decimal `json:"Nacional"`
	Estadual  decimal.Decimal `json:"Estadual"`
	Municipal decimal.Decimal `json:"Municipal"`
	Fonte     string          `json:"Fonte"`
}

// Rates never fails: any problem with the service degrades to the static
// table and is reported through the returned outcome.
func (c *Client) Rates(ctx context.Context, ncm string, uf string) (domain.TaxRates, domain.Outcome) {
	ncm = digitsOnly(ncm)
	uf = strings.ToUpper(strings.TrimSpace(uf))
	key := cache.TaxRateKey(ncm, uf)

	if cached, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		return *cached, domain.Primary()
	} else if err != nil {
		c.logger.Warn("tax rate cache read failed", zap.String("key", key), zap.Error(err))
	}

	rates, err := c.fetch(ctx, ncm, uf)
	if err != nil {
		c.logger.Warn("tax rate lookup degraded to static table", zap.String("ncm", ncm), zap.String("uf", uf), zap.Error(err))
		return FallbackRates(ncm, uf), domain.Fallback(err.Error())
	}

	if err := c.cache.Set(ctx, key, &rates, cacheTTL); err != nil {
		c.logger.Warn("tax rate cache write failed", zap.String("key", key), zap.Error(err))
	}
	return rates, domain.Primary()
}

func (c *Client) fetch(ctx context.Context, ncm string, uf string) (domain.TaxRates, error) {
	if c.baseURL == "" || c.token == "" {
		return domain.TaxRates{}, errNotConfigured
	}
	if ncm == "" {
		return domain.TaxRates{}, errors.New("produto sem NCM")
	}

	q := url.Values{}
	q.Set("token", c.token)
	q.Set("cnpj", c.cnpj)
	q.Set("codigo", ncm)
	q.Set("uf", uf)
	q.Set("ex", "0")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/produtos?"+q.Encode(), nil)
	if err != nil {
		return domain.TaxRates{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.TaxRates{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return domain.TaxRates{}, fmt.Errorf("token do servico de aliquotas recusado (HTTP %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.TaxRates{}, fmt.Errorf("servico de aliquotas respondeu HTTP %d", resp.StatusCode)
	}

	var reply serviceReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return domain.TaxRates{}, fmt.Errorf("resposta invalida do servico de aliquotas: %w", err)
	}
	return domain.TaxRates{
		NCM:       ncm,
		UF:        uf,
		Federal:   reply.Nacional,
		State:     reply.Estadual,
		Municipal: reply.Municipal,
		Source:    SourceService,
	}, nil
}

func digitsOnly(val string) string {
	var b strings.Builder
	for _, r := range val {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
