package taxrate

import (
	"context"

	"github.com/shopspring/decimal"

	"caixafacil/backend/internal/domain"
)

var defaultRate = decimal.RequireFromString("16.65")

// Average total burden per NCM chapter (first two digits).
var chapterRates = map[string]decimal.Decimal{
	"02": decimal.RequireFromString("13.45"),
	"04": decimal.RequireFromString("18.65"),
	"07": decimal.RequireFromString("8.36"),
	"09": decimal.RequireFromString("16.52"),
	"10": decimal.RequireFromString("13.45"),
	"15": decimal.RequireFromString("22.50"),
	"17": decimal.RequireFromString("30.60"),
	"19": decimal.RequireFromString("27.35"),
	"20": decimal.RequireFromString("30.10"),
	"21": decimal.RequireFromString("32.00"),
	"22": decimal.RequireFromString("37.85"),
	"24": decimal.RequireFromString("80.42"),
	"30": decimal.RequireFromString("33.98"),
	"33": decimal.RequireFromString("41.25"),
	"34": decimal.RequireFromString("36.95"),
	"39": decimal.RequireFromString("38.47"),
	"48": decimal.RequireFromString("36.52"),
	"61": decimal.RequireFromString("34.67"),
	"62": decimal.RequireFromString("34.67"),
	"64": decimal.RequireFromString("35.84"),
	"85": decimal.RequireFromString("39.08"),
}

// FallbackRates returns the chapter average as a single federal share.
func FallbackRates(ncm string, uf string) domain.TaxRates {
	rate := defaultRate
	if len(ncm) >= 2 {
		if r, ok := chapterRates[ncm[:2]]; ok {
			rate = r
		}
	}
	return domain.TaxRates{
		NCM:       ncm,
		UF:        uf,
		Federal:   rate,
		State:     decimal.Zero,
		Municipal: decimal.Zero,
		Source:    SourceFallback,
	}
}

// Burden is the approximate tax amount of a sale (Lei 12.741/2012).
type Burden struct {
	Federal   decimal.Decimal
	State     decimal.Decimal
	Municipal decimal.Decimal
	Source    string
	Outcome   domain.Outcome
}

func (b Burden) Total() decimal.Decimal {
	return b.Federal.Add(b.State).Add(b.Municipal)
}

// Percent of the burden over total, rounded to two places.
func (b Burden) Percent(total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return b.Total().Div(total).Mul(decimal.NewFromInt(100)).Round(2)
}

var hundred = decimal.NewFromInt(100)

// Approximate sums the per-line burden. One degraded line marks the whole
// burden as a fallback.
func Approximate(ctx context.Context, lookup Lookup, lines []domain.SaleLine, uf string) Burden {
	burden := Burden{Source: SourceService, Outcome: domain.Primary()}
	for _, line := range lines {
		rates, outcome := lookup.Rates(ctx, line.NCM, uf)
		if outcome.IsFallback() && !burden.Outcome.IsFallback() {
			burden.Outcome = outcome
			burden.Source = SourceFallback
		}
		base := decimal.New(line.TotalCents, -2)
		burden.Federal = burden.Federal.Add(base.Mul(rates.Federal).Div(hundred))
		burden.State = burden.State.Add(base.Mul(rates.State).Div(hundred))
		burden.Municipal = burden.Municipal.Add(base.Mul(rates.Municipal).Div(hundred))
	}
	burden.Federal = burden.Federal.Round(2)
	burden.State = burden.State.Round(2)
	burden.Municipal = burden.Municipal.Round(2)
	return burden
}

// StaticLookup serves the chapter table only.
type StaticLookup struct{}

func (StaticLookup) Rates(_ context.Context, ncm string, uf string) (domain.TaxRates, domain.Outcome) {
	return FallbackRates(digitsOnly(ncm), uf), domain.Fallback("tabela estatica")
}
