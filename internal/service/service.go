package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"caixafacil/backend/internal/domain"
	"caixafacil/backend/internal/events"
	"caixafacil/backend/internal/fiscal"
	"caixafacil/backend/internal/metrics"
	"caixafacil/backend/internal/printing"
	"caixafacil/backend/internal/receipt"
	"caixafacil/backend/internal/store"
	"caixafacil/backend/internal/taxrate"
)

var (
	ErrForbidden = errors.New("acesso negado")
	// ErrFiscalPrintFailed is returned together with a committed sale whose
	// real fiscal document could not be printed.
	ErrFiscalPrintFailed = errors.New("documento fiscal emitido mas não impresso")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type PrintDispatcher interface {
	Dispatch(ctx context.Context, job printing.Job) domain.PrintResult
	RegisterClientPrinters(ctx context.Context, tenantID string, clientID string, printers []domain.ClientPrinter) error
}

type Dependencies struct {
	Repo      store.Repository
	Issuer    *fiscal.Issuer
	TaxRates  taxrate.Lookup
	Formatter *receipt.Formatter
	Printer   PrintDispatcher
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

type Service struct {
	repo      store.Repository
	issuer    *fiscal.Issuer
	taxes     taxrate.Lookup
	formatter *receipt.Formatter
	printer   PrintDispatcher
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func New(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.TaxRates == nil {
		deps.TaxRates = taxrate.StaticLookup{}
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NoopPublisher{}
	}
	if deps.Formatter == nil {
		deps.Formatter = receipt.NewFormatter(receipt.DefaultWidth, receipt.DefaultTimezone, deps.Logger)
	}
	return &Service{
		repo:      deps.Repo,
		issuer:    deps.Issuer,
		taxes:     deps.TaxRates,
		formatter: deps.Formatter,
		printer:   deps.Printer,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       time.Now,
	}
}

func (s *Service) actor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.TenantID == "" {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

// CreateSale validates and commits the sale, then runs the fiscal, receipt
// and print stages unless the caller prints locally. Failures after the
// commit come back as warnings on the response; the one request-level error
// is ErrFiscalPrintFailed, returned alongside the committed sale.
func (s *Service) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (domain.SaleResponse, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	tenant, err := s.repo.GetTenant(ctx, actor.TenantID)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	sellerID := strings.TrimSpace(req.SellerID)
	if sellerID == "" {
		sellerID = actor.SellerID
	}
	if sellerID == "" {
		return domain.SaleResponse{}, store.ErrValidation
	}
	seller, err := s.repo.GetSeller(ctx, tenant.ID, sellerID)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if !seller.Active {
		return domain.SaleResponse{}, store.ErrValidation
	}

	lines, total, err := s.resolveLines(ctx, tenant.ID, req.Items)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	clientName := strings.TrimSpace(req.ClientName)
	settled, err := reconcilePayments(total, req.PaymentMethods, req.TotalPaid, clientName)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	now := s.now().UTC()
	sale := domain.Sale{
		TenantID:       tenant.ID,
		SellerID:       seller.ID,
		ClientName:     clientName,
		ClientDocument: strings.TrimSpace(req.ClientDocument),
		TotalCents:     total,
		PaidCents:      settled.paidCents,
		ChangeCents:    settled.changeCents,
		CreatedAt:      now,
		Lines:          lines,
		Payments:       settled.payments,
	}
	if settled.installment != nil {
		if _, err := s.repo.GetCustomer(ctx, tenant.ID, settled.installment.CustomerID); err != nil {
			return domain.SaleResponse{}, err
		}
		sale.IsInstallment = true
		sale.Installments = buildInstallmentSchedule(*settled.installment, now, s.logger)
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	s.metrics.SaleCommitted()
	s.logger.Info("sale committed",
		zap.String("tenant_id", created.TenantID),
		zap.String("sale_id", created.ID),
		zap.Int64("total_cents", created.TotalCents),
		zap.Int64("change_cents", created.ChangeCents),
	)
	s.publishCompleted(ctx, *created)

	if req.SkipPrint {
		return domain.SaleResponse{Sale: *created}, nil
	}
	return s.deliver(ctx, *tenant, *created, delivery{clientID: req.ClientID, timezone: req.Timezone})
}

// Reprint reuses the document already issued for the sale whenever there is
// one and sends the receipt to the printer again.
func (s *Service) Reprint(ctx context.Context, saleID string, req domain.ReprintRequest) (domain.SaleResponse, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.SaleResponse{}, store.ErrValidation
	}
	sale, err := s.repo.FindSaleByID(ctx, actor.TenantID, saleID)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	tenant, err := s.repo.GetTenant(ctx, actor.TenantID)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	return s.deliver(ctx, *tenant, *sale, delivery{clientID: req.ClientID, timezone: req.Timezone, reuse: true})
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.SaleResponse, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	sale, err := s.repo.FindSaleByID(ctx, actor.TenantID, strings.TrimSpace(saleID))
	if err != nil {
		return domain.SaleResponse{}, err
	}
	resp := domain.SaleResponse{Sale: *sale}
	doc, err := s.repo.FindFiscalDocumentBySale(ctx, actor.TenantID, sale.ID)
	switch {
	case err == nil:
		outcome := domain.Primary()
		if doc.IsMock() {
			outcome = domain.Fallback("documento nao fiscal")
		}
		resp.Fiscal = fiscalSummary(doc, outcome, true)
	case !errors.Is(err, store.ErrNotFound):
		return domain.SaleResponse{}, err
	}
	return resp, nil
}

func (s *Service) RegisterClientPrinters(ctx context.Context, clientID string, printers []domain.ClientPrinter) error {
	actor, err := s.actor(ctx)
	if err != nil {
		return err
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return store.ErrValidation
	}
	cleaned := make([]domain.ClientPrinter, 0, len(printers))
	for _, p := range printers {
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			return store.ErrValidation
		}
		cleaned = append(cleaned, p)
	}
	return s.printer.RegisterClientPrinters(ctx, actor.TenantID, clientID, cleaned)
}

func (s *Service) RegisterPrinter(ctx context.Context, req domain.PrinterCreateRequest) (domain.RegisteredPrinter, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.RegisteredPrinter{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.RegisteredPrinter{}, store.ErrValidation
	}
	created, err := s.repo.CreatePrinter(ctx, domain.RegisteredPrinter{
		TenantID:   actor.TenantID,
		Name:       name,
		Connection: strings.TrimSpace(req.Connection),
		Status:     domain.PrinterStatusConnected,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		return domain.RegisteredPrinter{}, err
	}
	return *created, nil
}

func (s *Service) ListPrinters(ctx context.Context) ([]domain.RegisteredPrinter, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListPrinters(ctx, actor.TenantID)
}

type delivery struct {
	clientID string
	timezone string
	reuse    bool
}

// deliver runs fiscal issuance, receipt formatting and print dispatch in
// that order for an already committed sale.
func (s *Service) deliver(ctx context.Context, tenant domain.Tenant, sale domain.Sale, opts delivery) (domain.SaleResponse, error) {
	resp := domain.SaleResponse{Sale: sale}

	var result fiscal.Result
	var err error
	if opts.reuse {
		result, err = s.issuer.EnsureDocument(ctx, tenant, sale)
	} else {
		result, err = s.issuer.Issue(ctx, tenant, sale)
	}
	var doc *domain.FiscalDocument
	if err != nil {
		s.metrics.FiscalDocument(domain.FiscalKindNFCe, "error")
		s.logger.Warn("fiscal issuance failed", zap.String("sale_id", sale.ID), zap.Error(err))
		resp.Warnings = append(resp.Warnings, "Falha na emissão fiscal: "+err.Error())
		resp.Fiscal = &domain.FiscalSummary{
			Kind:    domain.FiscalKindNFCe,
			Status:  "FAILED",
			Outcome: domain.OutcomeFallback,
			Reason:  err.Error(),
		}
	} else {
		doc = result.Document
		if !result.Reused {
			s.metrics.FiscalDocument(doc.Kind, result.Outcome.Branch)
		}
		resp.Fiscal = fiscalSummary(doc, result.Outcome, result.Reused)
		if result.Outcome.IsFallback() {
			resp.Warnings = append(resp.Warnings, "Documento NAO fiscal emitido: "+result.Outcome.Reason)
		}
	}

	in := receipt.Input{
		Tenant:      tenant,
		Sale:        sale,
		Document:    doc,
		GeneratedAt: s.now(),
	}
	if tz := firstNonEmpty(opts.timezone, tenant.Timezone); tz != "" {
		in.Location = receipt.LoadLocation(tz, s.logger)
	}
	if doc != nil && !doc.IsMock() {
		burden := taxrate.Approximate(ctx, s.taxes, sale.Lines, tenant.Fiscal.State)
		in.Tax = &burden
	}
	rendered, err := s.formatter.Format(in)
	if err != nil {
		return resp, err
	}
	resp.Receipt = rendered.Text
	if rendered.QR.IsFallback() && rendered.Fiscal {
		resp.Warnings = append(resp.Warnings, "QR Code enviado como comando da impressora: "+rendered.QR.Reason)
	}
	if rendered.Tax.IsFallback() && rendered.Fiscal {
		s.logger.Warn("approximate taxes from static table", zap.String("sale_id", sale.ID), zap.String("reason", rendered.Tax.Reason))
	}

	payload, err := rendered.EscPos()
	if err != nil {
		return resp, fmt.Errorf("codificar cupom: %w", err)
	}
	printed := s.printer.Dispatch(ctx, printing.Job{TenantID: tenant.ID, ClientID: strings.TrimSpace(opts.clientID), Content: payload})
	s.metrics.PrintJob(printed.Tier, printed.Code)
	resp.Print = &printed
	if printed.Success {
		return resp, nil
	}

	resp.Warnings = append(resp.Warnings, printed.Reason)
	if doc != nil && !doc.IsMock() {
		return resp, fmt.Errorf("%w: %s", ErrFiscalPrintFailed, printed.Reason)
	}
	return resp, nil
}

func (s *Service) publishCompleted(ctx context.Context, sale domain.Sale) {
	err := s.publisher.PublishSaleCompleted(ctx, domain.SaleCompletedEvent{
		SaleID:      sale.ID,
		TenantID:    sale.TenantID,
		SellerID:    sale.SellerID,
		TotalCents:  sale.TotalCents,
		Installment: sale.IsInstallment,
		CreatedAt:   sale.CreatedAt,
	})
	if err != nil {
		s.logger.Warn("publish sale completed", zap.String("sale_id", sale.ID), zap.Error(err))
	}
}

func fiscalSummary(doc *domain.FiscalDocument, outcome domain.Outcome, reused bool) *domain.FiscalSummary {
	return &domain.FiscalSummary{
		Kind:      doc.Kind,
		Provider:  doc.Provider,
		Number:    doc.Number,
		AccessKey: doc.AccessKey,
		Status:    doc.Status,
		Outcome:   outcome.Branch,
		Reason:    outcome.Reason,
		Reused:    reused,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
