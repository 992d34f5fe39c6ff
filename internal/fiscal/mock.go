package fiscal

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"caixafacil/backend/internal/domain"
)

const accessKeyLength = 44

// MockDocument synthesizes a clearly flagged non-fiscal placeholder.
func MockDocument(tenantID string, saleID string, now time.Time) domain.FiscalDocument {
	return domain.FiscalDocument{
		TenantID:  tenantID,
		SaleID:    saleID,
		Kind:      domain.FiscalKindMock,
		Provider:  "",
		Number:    fmt.Sprintf("%06d", 100000+rand.IntN(900000)),
		Series:    "0",
		AccessKey: randomDigits(accessKeyLength),
		Status:    domain.FiscalStatusMock,
		IssuedAt:  now.UTC(),
	}
}

func randomDigits(n int) string {
	var b strings.Builder
	b.Grow(n)
	for range n {
		b.WriteByte(byte('0' + rand.IntN(10)))
	}
	return b.String()
}

// MockProvider authorizes every request locally. It is meant for development
// tenants that have a complete fiscal configuration but no gateway contract.
type MockProvider struct {
	now func() time.Time
}

func NewMockProvider() *MockProvider {
	return &MockProvider{now: time.Now}
}

func (p *MockProvider) Name() string {
	return ProviderMock
}

func (p *MockProvider) Generate(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	number := fmt.Sprintf("%06d", 1+rand.IntN(999999))
	key := buildAccessKey(req, number, p.now())
	return Response{
		Success:    true,
		Number:     number,
		Series:     req.Series,
		AccessKey:  key,
		Protocol:   "1" + randomDigits(14),
		Status:     "autorizado",
		RawContent: fmt.Sprintf(`<nfeProc><chNFe>%s</chNFe><tpAmb>%d</tpAmb></nfeProc>`, key, req.Environment),
	}, nil
}

// buildAccessKey lays out a 44-digit NFC-e key: cUF, AAMM, CNPJ, model 65,
// series, number, tpEmis, cNF and the mod-11 check digit.
func buildAccessKey(req Request, number string, now time.Time) string {
	base := fmt.Sprintf("%02d", stateCode(req.Emitter.State)) +
		now.Format("0601") +
		padDigits(req.Emitter.CNPJ, 14) +
		"65" +
		padDigits(req.Series, 3) +
		padDigits(number, 9) +
		"1" +
		fmt.Sprintf("%08d", rand.IntN(100000000))
	return base + checkDigit(base)
}

// padDigits keeps the rightmost n digits of val, left padded with zeros.
func padDigits(val string, n int) string {
	digits := digitsOnly(val)
	if len(digits) >= n {
		return digits[len(digits)-n:]
	}
	return strings.Repeat("0", n-len(digits)) + digits
}

func checkDigit(key string) string {
	sum, weight := 0, 2
	for i := len(key) - 1; i >= 0; i-- {
		sum += int(key[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	dv := 11 - sum%11
	if dv >= 10 {
		dv = 0
	}
	return fmt.Sprintf("%d", dv)
}

var stateCodes = map[string]int{
	"RO": 11, "AC": 12, "AM": 13, "RR": 14, "PA": 15, "AP": 16, "TO": 17,
	"MA": 21, "PI": 22, "CE": 23, "RN": 24, "PB": 25, "PE": 26, "AL": 27, "SE": 28, "BA": 29,
	"MG": 31, "ES": 32, "RJ": 33, "SP": 35,
	"PR": 41, "SC": 42, "RS": 43,
	"MS": 50, "MT": 51, "GO": 52, "DF": 53,
}

func stateCode(uf string) int {
	return stateCodes[strings.ToUpper(uf)]
}
