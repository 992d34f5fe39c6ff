package fiscal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"caixafacil/backend/internal/domain"
	"caixafacil/backend/internal/store"
)

var (
	ErrAuthentication  = errors.New("falha de autenticação no provedor fiscal: chave de API inválida ou ausente")
	ErrIssuanceFailed  = errors.New("falha na emissão do documento fiscal")
	ErrUnknownProvider = errors.New("provedor fiscal desconhecido")
)

const (
	ProviderFocusNFe    = "focusnfe"
	ProviderNuvemFiscal = "nuvemfiscal"
	ProviderPlugNotas   = "plugnotas"
	ProviderWebmania    = "webmania"
	ProviderMock        = "mock"
)

type Emitter struct {
	Name              string
	CNPJ              string
	StateRegistration string
	Address           string
	State             string
	City              string
	MunicipalityCode  string
	CertificateRef    string
}

type Recipient struct {
	Name     string
	Document string
}

type Item struct {
	Number      int
	Code        string
	Description string
	NCM         string
	CFOP        string
	Unit        string
	Qty         int
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
}

type Payment struct {
	Method string
	Amount decimal.Decimal
}

// Request is the provider-neutral shape every adapter builds its payload from.
type Request struct {
	Reference        string
	APIToken         string
	Environment      int
	Series           string
	IssuedAt         time.Time
	Emitter          Emitter
	Recipient        Recipient
	Items            []Item
	Payments         []Payment
	Total            decimal.Decimal
	Change           decimal.Decimal
}

// Response is the provider result normalized for persistence.
type Response struct {
	Success      bool
	Number       string
	Series       string
	AccessKey    string
	Protocol     string
	Status       string
	RawContent   string
	PDFReference string
	QRCodeURL    string
	Error        string
}

type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (Response, error)
}

type Result struct {
	Document *domain.FiscalDocument
	Outcome  domain.Outcome
	Reused   bool
}

type Issuer struct {
	repo            store.Repository
	providers       map[string]Provider
	defaultProvider string
	environment     string
	logger          *zap.Logger
	now             func() time.Time
}

type Option func(*Issuer)

func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

func NewIssuer(repo store.Repository, providers []Provider, defaultProvider string, environment string, logger *zap.Logger, opts ...Option) *Issuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	issuer := &Issuer{
		repo:            repo,
		providers:       make(map[string]Provider, len(providers)),
		defaultProvider: strings.ToLower(strings.TrimSpace(defaultProvider)),
		environment:     environment,
		logger:          logger,
		now:             time.Now,
	}
	for _, provider := range providers {
		issuer.providers[provider.Name()] = provider
	}
	for _, opt := range opts {
		opt(issuer)
	}
	return issuer
}

// CheckConfig reports the fiscal fields missing for real NFC-e issuance.
// An empty result means the tenant is eligible.
func CheckConfig(cfg domain.FiscalConfig) []string {
	return cfg.MissingFields()
}

// Issue produces the fiscal document for a committed sale. Ineligible tenants
// always receive a mock document; eligible tenants always go to a provider.
func (i *Issuer) Issue(ctx context.Context, tenant domain.Tenant, sale domain.Sale) (Result, error) {
	if missing := CheckConfig(tenant.Fiscal); len(missing) > 0 {
		reason := "configuração fiscal incompleta: " + strings.Join(missing, ", ")
		return i.issueMock(ctx, tenant, sale, reason)
	}

	name := strings.ToLower(strings.TrimSpace(tenant.Fiscal.Provider))
	if name == "" {
		name = i.defaultProvider
	}
	provider, ok := i.providers[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %w %q", ErrIssuanceFailed, ErrUnknownProvider, name)
	}

	req := i.buildRequest(tenant, sale)
	resp, err := provider.Generate(ctx, req)
	if err != nil {
		if errors.Is(err, ErrAuthentication) {
			i.logger.Warn("fiscal provider rejected credentials", zap.String("provider", name), zap.String("tenant_id", tenant.ID), zap.String("sale_id", sale.ID))
			return Result{}, err
		}
		i.logger.Warn("fiscal provider call failed", zap.String("provider", name), zap.String("sale_id", sale.ID), zap.Error(err))
		return Result{}, fmt.Errorf("%w: %v", ErrIssuanceFailed, err)
	}
	if !resp.Success {
		i.logger.Warn("fiscal provider refused document", zap.String("provider", name), zap.String("sale_id", sale.ID), zap.String("error", resp.Error))
		return Result{}, fmt.Errorf("%w: %s", ErrIssuanceFailed, resp.Error)
	}

	accessKey := digitsOnly(resp.AccessKey)
	if accessKey != "" {
		existing, err := i.repo.FindFiscalDocumentByAccessKey(ctx, tenant.ID, accessKey)
		if err == nil {
			return Result{Document: existing, Outcome: domain.Primary(), Reused: true}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return Result{}, err
		}
	}

	qrURL := resp.QRCodeURL
	if qrURL == "" && accessKey != "" {
		built, err := BuildQRCodeURL(tenant.Fiscal.State, accessKey, req.Environment, tenant.Fiscal.CSCID, tenant.Fiscal.CSCToken)
		if err != nil {
			i.logger.Warn("nfce qr url unavailable", zap.String("sale_id", sale.ID), zap.Error(err))
		} else {
			qrURL = built
		}
	}

	series := resp.Series
	if series == "" {
		series = tenant.Fiscal.Series
	}
	doc := domain.FiscalDocument{
		TenantID:     tenant.ID,
		SaleID:       sale.ID,
		Kind:         domain.FiscalKindNFCe,
		Provider:     name,
		Number:       resp.Number,
		Series:       series,
		AccessKey:    accessKey,
		Protocol:     resp.Protocol,
		Status:       normalizeStatus(resp.Status),
		RawContent:   resp.RawContent,
		PDFReference: resp.PDFReference,
		QRCodeURL:    qrURL,
		IssuedAt:     i.now().UTC(),
	}
	saved, err := i.persist(ctx, doc)
	if err != nil {
		return Result{}, err
	}
	return Result{Document: saved, Outcome: domain.Primary()}, nil
}

// EnsureDocument returns the document already issued for the sale when there
// is one, issuing only when nothing reusable exists. A mock document is
// replaced once the tenant becomes eligible for real issuance.
func (i *Issuer) EnsureDocument(ctx context.Context, tenant domain.Tenant, sale domain.Sale) (Result, error) {
	existing, err := i.repo.FindFiscalDocumentBySale(ctx, tenant.ID, sale.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Result{}, err
	}
	if existing != nil {
		if !existing.IsMock() {
			return Result{Document: existing, Outcome: domain.Primary(), Reused: true}, nil
		}
		if missing := CheckConfig(tenant.Fiscal); len(missing) > 0 {
			reason := "configuração fiscal incompleta: " + strings.Join(missing, ", ")
			return Result{Document: existing, Outcome: domain.Fallback(reason), Reused: true}, nil
		}
	}
	return i.Issue(ctx, tenant, sale)
}

func (i *Issuer) issueMock(ctx context.Context, tenant domain.Tenant, sale domain.Sale, reason string) (Result, error) {
	doc := MockDocument(tenant.ID, sale.ID, i.now())
	i.logger.Warn("issuing NON-FISCAL mock document",
		zap.String("tenant_id", tenant.ID),
		zap.String("sale_id", sale.ID),
		zap.String("access_key", doc.AccessKey),
		zap.String("reason", reason),
	)
	saved, err := i.persist(ctx, doc)
	if err != nil {
		return Result{}, err
	}
	return Result{Document: saved, Outcome: domain.Fallback(reason)}, nil
}

func (i *Issuer) persist(ctx context.Context, doc domain.FiscalDocument) (*domain.FiscalDocument, error) {
	saved, err := i.repo.CreateFiscalDocument(ctx, doc)
	if errors.Is(err, store.ErrDuplicate) {
		return i.repo.FindFiscalDocumentByAccessKey(ctx, doc.TenantID, doc.AccessKey)
	}
	return saved, err
}

func (i *Issuer) buildRequest(tenant domain.Tenant, sale domain.Sale) Request {
	req := Request{
		Reference:   sale.ID,
		APIToken:    tenant.Fiscal.APIToken,
		Environment: EnvironmentCode(firstNonEmpty(tenant.Fiscal.Environment, i.environment)),
		Series:      tenant.Fiscal.Series,
		IssuedAt:    sale.CreatedAt,
		Emitter: Emitter{
			Name:              tenant.Name,
			CNPJ:              digitsOnly(tenant.Fiscal.CNPJ),
			StateRegistration: digitsOnly(tenant.Fiscal.StateRegistration),
			Address:           tenant.Address,
			State:             strings.ToUpper(tenant.Fiscal.State),
			City:              tenant.Fiscal.City,
			MunicipalityCode:  tenant.Fiscal.MunicipalityCode,
			CertificateRef:    tenant.Fiscal.CertificateRef,
		},
		Recipient: Recipient{Name: sale.ClientName, Document: digitsOnly(sale.ClientDocument)},
		Total:     decimal.New(sale.TotalCents, -2),
		Change:    decimal.New(sale.ChangeCents, -2),
	}
	for n, line := range sale.Lines {
		req.Items = append(req.Items, Item{
			Number:      n + 1,
			Code:        line.ProductID,
			Description: line.ProductName,
			NCM:         line.NCM,
			CFOP:        line.CFOP,
			Unit:        line.Unit,
			Qty:         line.Qty,
			UnitPrice:   decimal.New(line.UnitPriceCents, -2),
			Total:       decimal.New(line.TotalCents, -2),
		})
	}
	for _, payment := range sale.Payments {
		req.Payments = append(req.Payments, Payment{Method: payment.Method, Amount: decimal.New(payment.AmountCents, -2)})
	}
	return req
}

// EnvironmentCode maps the configured environment to tpAmb (1 production, 2 homologation).
func EnvironmentCode(environment string) int {
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "producao", "production", "1":
		return 1
	}
	return 2
}

// PaymentCode maps a payment method to the SEFAZ tPag code.
func PaymentCode(method string) string {
	switch method {
	case domain.PaymentCash:
		return "01"
	case domain.PaymentCredit:
		return "03"
	case domain.PaymentDebit:
		return "04"
	case domain.PaymentInstallment:
		return "05"
	case domain.PaymentPix:
		return "17"
	}
	return "99"
}

func normalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "", "autorizado", "autorizada", "aprovado", "authorized", "concluido":
		return domain.FiscalStatusAuthorized
	}
	return strings.ToUpper(status)
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

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
