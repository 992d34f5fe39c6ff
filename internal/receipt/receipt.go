package receipt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"caixafacil/backend/internal/domain"
	"caixafacil/backend/internal/fiscal"
	"caixafacil/backend/internal/taxrate"
)

const (
	DefaultWidth    = 48
	NarrowWidth     = 32
	DefaultTimezone = "America/Sao_Paulo"

	NonFiscalDisclaimer = "NAO E DOCUMENTO FISCAL"
)

var ErrEmptySale = errors.New("venda sem itens")

type Input struct {
	Tenant      domain.Tenant
	Sale        domain.Sale
	Document    *domain.FiscalDocument
	Tax         *taxrate.Burden
	Location    *time.Location
	GeneratedAt time.Time
}

// Receipt is the rendered text plus the degradable branches taken.
// NativeQR is set when the QR code could not be drawn as text; the printer
// then draws it from the URL, right after line nativeQRLine.
type Receipt struct {
	Text     string
	Fiscal   bool
	QR       domain.Outcome
	Tax      domain.Outcome
	NativeQR string

	nativeQRLine int
}

type QRRenderer func(content string) (string, error)

type Formatter struct {
	width    int
	location *time.Location
	qr       QRRenderer
	logger   *zap.Logger
}

type Option func(*Formatter)

func WithQRRenderer(r QRRenderer) Option {
	return func(f *Formatter) {
		f.qr = r
	}
}

func NewFormatter(width int, timezone string, logger *zap.Logger, opts ...Option) *Formatter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if width < NarrowWidth {
		width = DefaultWidth
	}
	f := &Formatter{
		width:    width,
		location: LoadLocation(timezone, logger),
		qr:       RenderQR,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// LoadLocation resolves an IANA zone, falling back to a fixed -03:00 offset
// when the name is empty or tzdata is unavailable.
func LoadLocation(name string, logger *zap.Logger) *time.Location {
	if strings.TrimSpace(name) == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if logger != nil {
			logger.Warn("timezone unavailable, using fixed -03:00", zap.String("timezone", name), zap.Error(err))
		}
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}

// Format is deterministic for identical inputs; GeneratedAt pins the footer clock.
func (f *Formatter) Format(in Input) (Receipt, error) {
	if len(in.Sale.Lines) == 0 {
		return Receipt{}, ErrEmptySale
	}
	loc := in.Location
	if loc == nil {
		loc = f.location
	}
	if in.GeneratedAt.IsZero() {
		in.GeneratedAt = in.Sale.CreatedAt
	}

	if in.Document == nil || in.Document.IsMock() {
		return f.formatNonFiscal(in, loc), nil
	}
	return f.formatNFCe(in, loc), nil
}

func (f *Formatter) header(p *page, tenant domain.Tenant) {
	p.center(tenant.Name)
	if tenant.Document != "" {
		p.center("CNPJ: " + tenant.Document)
	}
	if tenant.Address != "" {
		p.wrap(tenant.Address)
	}
	if tenant.Phone != "" {
		p.add("Tel: " + tenant.Phone)
	}
	p.rule()
}

func (f *Formatter) payments(p *page, sale domain.Sale) {
	for _, payment := range sale.Payments {
		p.pair(paymentLabel(payment.Method), Money(payment.AmountCents))
	}
	if sale.ChangeCents > 0 {
		p.pair("TROCO R$", Money(sale.ChangeCents))
	}
}

func (f *Formatter) installments(p *page, sale domain.Sale) {
	if len(sale.Installments) == 0 {
		return
	}
	p.rule()
	p.add("PARCELAS")
	for _, entry := range sale.Installments {
		label := fmt.Sprintf("%d/%d  venc. %s", entry.Number, entry.Count, entry.DueDate.Format("02/01/2006"))
		p.pair(label, Money(entry.AmountCents))
	}
}

func (f *Formatter) formatNonFiscal(in Input, loc *time.Location) Receipt {
	p := &page{width: f.width}
	f.header(p, in.Tenant)
	p.center("CUPOM NAO FISCAL")
	p.add("Venda: " + in.Sale.ID)
	p.add("Data: " + formatDate(in.Sale.CreatedAt, loc))
	p.rule()

	for _, line := range in.Sale.Lines {
		p.add(line.ProductName)
		p.pair(fmt.Sprintf("  %d x %s", line.Qty, Money(line.UnitPriceCents)), Money(line.TotalCents))
	}
	p.rule()
	p.pair("TOTAL R$", Money(in.Sale.TotalCents))
	f.payments(p, in.Sale)
	f.installments(p, in.Sale)

	if in.Sale.ClientName != "" {
		p.rule()
		client := "Cliente: " + in.Sale.ClientName
		if in.Sale.ClientDocument != "" {
			client += " (" + in.Sale.ClientDocument + ")"
		}
		p.add(client)
	}

	p.rule()
	p.center(NonFiscalDisclaimer)
	if in.Document != nil {
		p.center("Controle interno: " + in.Document.Number)
	}
	p.add("Gerado em " + formatDate(in.GeneratedAt, loc))

	return Receipt{
		Text: p.String(),
		QR:   domain.Fallback("documento nao fiscal"),
		Tax:  domain.Fallback("documento nao fiscal"),
	}
}

func (f *Formatter) formatNFCe(in Input, loc *time.Location) Receipt {
	doc := in.Document
	tpAmb := fiscal.EnvironmentCode(in.Tenant.Fiscal.Environment)
	out := Receipt{Fiscal: true, QR: domain.Primary(), Tax: domain.Primary()}

	p := &page{width: f.width}
	p.center(in.Tenant.Name)
	p.center("CNPJ: " + in.Tenant.Fiscal.CNPJ + " IE: " + in.Tenant.Fiscal.StateRegistration)
	if in.Tenant.Address != "" {
		p.wrap(in.Tenant.Address)
	}
	p.center("Documento Auxiliar da Nota Fiscal")
	p.center("de Consumidor Eletronica")
	p.rule()

	p.add("CODIGO DESCRICAO")
	p.pair("QTD UN x VL UNIT", "VL TOTAL")
	totalQty := 0
	for n, line := range in.Sale.Lines {
		totalQty += line.Qty
		p.add(fmt.Sprintf("%03d %s %s", n+1, line.ProductID, line.ProductName))
		unit := line.Unit
		if unit == "" {
			unit = "UN"
		}
		p.pair(fmt.Sprintf("    NCM %s  %d %s x %s", line.NCM, line.Qty, unit, Money(line.UnitPriceCents)), Money(line.TotalCents))
	}
	p.rule()
	p.pair("QTD. TOTAL DE ITENS", fmt.Sprintf("%d", totalQty))
	p.pair("VALOR TOTAL R$", Money(in.Sale.TotalCents))
	p.pair("FORMA DE PAGAMENTO", "VALOR PAGO R$")
	f.payments(p, in.Sale)
	f.installments(p, in.Sale)
	p.rule()

	p.center("Consulte pela Chave de Acesso em")
	if consult := fiscal.ConsultURL(in.Tenant.Fiscal.State, tpAmb); consult != "" {
		p.wrap(consult)
	}
	groups := strings.Fields(GroupAccessKey(doc.AccessKey))
	for len(groups) > 6 {
		p.center(strings.Join(groups[:6], " "))
		groups = groups[6:]
	}
	p.center(strings.Join(groups, " "))
	p.rule()

	if in.Sale.ClientDocument != "" {
		p.add("CONSUMIDOR - CPF/CNPJ: " + in.Sale.ClientDocument)
		if in.Sale.ClientName != "" {
			p.add(in.Sale.ClientName)
		}
	} else {
		p.center("CONSUMIDOR NAO IDENTIFICADO")
	}
	p.rule()

	p.add(fmt.Sprintf("NFC-e n %s  Serie %s  %s", doc.Number, doc.Series, formatDate(doc.IssuedAt, loc)))
	if doc.Protocol != "" {
		p.add("Protocolo de autorizacao: " + doc.Protocol)
	}
	p.add("Data de autorizacao: " + formatDate(doc.IssuedAt, loc))
	if tpAmb != 1 {
		p.center("EMITIDA EM AMBIENTE DE HOMOLOGACAO")
		p.center("SEM VALOR FISCAL")
	}
	p.rule()

	out.QR = f.qrBlock(p, doc)
	if out.QR.IsFallback() && doc.QRCodeURL != "" {
		out.NativeQR = doc.QRCodeURL
		out.nativeQRLine = len(p.lines)
	}
	p.rule()

	out.Tax = f.taxBlock(p, in)
	p.add("Gerado em " + formatDate(in.GeneratedAt, loc))

	out.Text = p.String()
	return out
}

// qrBlock never fails the receipt: a render error or an oversized code
// prints the URL on one unbroken line instead.
func (f *Formatter) qrBlock(p *page, doc *domain.FiscalDocument) domain.Outcome {
	if doc.QRCodeURL == "" {
		return domain.Fallback("documento sem URL de QR code")
	}
	p.center("Consulta via leitor de QR Code")

	art, err := f.qr(doc.QRCodeURL)
	reason := ""
	if err != nil {
		reason = "falha ao gerar QR code: " + err.Error()
	} else if w := widest(art); w > f.width {
		reason = fmt.Sprintf("QR code com %d colunas excede a largura %d", w, f.width)
	}
	if reason != "" {
		f.logger.Warn("printing qr code url as text", zap.String("access_key", doc.AccessKey), zap.String("reason", reason))
		p.lines = append(p.lines, doc.QRCodeURL)
		return domain.Fallback(reason)
	}

	for _, line := range strings.Split(strings.TrimRight(art, "\n"), "\n") {
		pad := (f.width - utf8.RuneCountInString(line)) / 2
		p.lines = append(p.lines, strings.Repeat(" ", pad)+line)
	}
	return domain.Primary()
}

func (f *Formatter) taxBlock(p *page, in Input) domain.Outcome {
	p.add("Tributos Totais Incidentes")
	p.add("(Lei Federal 12.741/2012)")

	burden := in.Tax
	if burden == nil {
		fallback := taxrate.Approximate(context.Background(), taxrate.StaticLookup{}, in.Sale.Lines, in.Tenant.Fiscal.State)
		fallback.Outcome = domain.Fallback("aliquotas nao informadas")
		burden = &fallback
	}
	total := decimal.New(in.Sale.TotalCents, -2)
	p.pair(fmt.Sprintf("R$ (%s%%)", Decimal(burden.Percent(total))), Decimal(burden.Total()))
	p.pair("Federal", Decimal(burden.Federal))
	p.pair("Estadual", Decimal(burden.State))
	p.pair("Municipal", Decimal(burden.Municipal))
	p.add("Fonte: " + burden.Source)
	return burden.Outcome
}

func widest(art string) int {
	width := 0
	for _, line := range strings.Split(art, "\n") {
		if n := utf8.RuneCountInString(line); n > width {
			width = n
		}
	}
	return width
}
