package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type FiscalConfig struct {
	Provider          string `json:"provider"`
	APIToken          string `json:"-"`
	Environment       string `json:"environment"`
	CNPJ              string `json:"cnpj"`
	StateRegistration string `json:"state_registration"`
	CertificateRef    string `json:"-"`
	Series            string `json:"series"`
	MunicipalityCode  string `json:"municipality_code"`
	CSCID             string `json:"csc_id"`
	CSCToken          string `json:"-"`
	State             string `json:"state"`
	City              string `json:"city"`
}

// MissingFields lists the fiscal fields that prevent real NFC-e issuance.
func (c FiscalConfig) MissingFields() []string {
	required := []struct {
		name  string
		value string
	}{
		{"cnpj", c.CNPJ},
		{"state_registration", c.StateRegistration},
		{"certificate", c.CertificateRef},
		{"series", c.Series},
		{"municipality_code", c.MunicipalityCode},
		{"csc_id", c.CSCID},
		{"csc_token", c.CSCToken},
		{"state", c.State},
		{"city", c.City},
	}
	missing := make([]string, 0, len(required))
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	return missing
}

type Tenant struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Document string       `json:"document"`
	Address  string       `json:"address"`
	Phone    string       `json:"phone"`
	Timezone string       `json:"timezone"`
	Fiscal   FiscalConfig `json:"fiscal"`
}

type Seller struct {
	ID           string
	TenantID     string
	Name         string
	Email        string
	PasswordHash string
	Role         string
	Active       bool
}

type Customer struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Document string `json:"document"`
}

type Product struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	Name       string `json:"name"`
	NCM        string `json:"ncm"`
	CFOP       string `json:"cfop"`
	Unit       string `json:"unit"`
	PriceCents int64  `json:"price_cents"`
	Active     bool   `json:"active"`
}

type SaleLine struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	NCM            string `json:"ncm,omitempty"`
	CFOP           string `json:"cfop,omitempty"`
	Unit           string `json:"unit,omitempty"`
	Qty            int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	TotalCents     int64  `json:"total_cents"`
}

type PaymentInstrument struct {
	Method       string `json:"method"`
	AmountCents  int64  `json:"amount_cents"`
	CustomerID   string `json:"customer_id,omitempty"`
	Installments int    `json:"installments,omitempty"`
	FirstDueDate string `json:"first_due_date,omitempty"`
	Description  string `json:"description,omitempty"`
}

type InstallmentEntry struct {
	ID                   string    `json:"id"`
	SaleID               string    `json:"sale_id"`
	CustomerID           string    `json:"customer_id"`
	Number               int       `json:"number"`
	Count                int       `json:"count"`
	AmountCents          int64     `json:"amount_cents"`
	RemainingAmountCents int64     `json:"remaining_amount_cents"`
	DueDate              time.Time `json:"due_date"`
	Status               string    `json:"status"`
}

type Sale struct {
	ID             string              `json:"id"`
	TenantID       string              `json:"tenant_id"`
	SellerID       string              `json:"seller_id"`
	ClientName     string              `json:"client_name,omitempty"`
	ClientDocument string              `json:"client_cpf_cnpj,omitempty"`
	TotalCents     int64               `json:"total_cents"`
	PaidCents      int64               `json:"paid_cents"`
	ChangeCents    int64               `json:"change_cents"`
	IsInstallment  bool                `json:"is_installment"`
	CreatedAt      time.Time           `json:"created_at"`
	Lines          []SaleLine          `json:"items"`
	Payments       []PaymentInstrument `json:"payments"`
	Installments   []InstallmentEntry  `json:"installments,omitempty"`
}

type FiscalDocument struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	SaleID       string    `json:"sale_id"`
	Kind         string    `json:"kind"`
	Provider     string    `json:"provider"`
	Number       string    `json:"number"`
	Series       string    `json:"series"`
	AccessKey    string    `json:"access_key"`
	Protocol     string    `json:"protocol,omitempty"`
	Status       string    `json:"status"`
	RawContent   string    `json:"-"`
	PDFReference string    `json:"pdf_reference,omitempty"`
	QRCodeURL    string    `json:"qr_code_url,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
}

func (d FiscalDocument) IsMock() bool {
	return d.Kind == FiscalKindMock
}

type RegisteredPrinter struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Name       string     `json:"name"`
	Connection string     `json:"connection"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

type ClientPrinter struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
	Online    bool   `json:"online"`
}

type Actor struct {
	TenantID string
	SellerID string
	Role     string
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TenantID    string `json:"tenant_id"`
	SellerID    string `json:"seller_id"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type SaleItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type PaymentRequest struct {
	Method       string          `json:"method"`
	Amount       decimal.Decimal `json:"amount"`
	CustomerID   string          `json:"customerId,omitempty"`
	Installments int             `json:"installments,omitempty"`
	FirstDueDate string          `json:"firstDueDate,omitempty"`
	Description  string          `json:"description,omitempty"`
}

type CreateSaleRequest struct {
	SellerID       string            `json:"sellerId,omitempty"`
	Items          []SaleItemRequest `json:"items"`
	ClientName     string            `json:"clientName,omitempty"`
	ClientDocument string            `json:"clientCpfCnpj,omitempty"`
	PaymentMethods []PaymentRequest  `json:"paymentMethods"`
	TotalPaid      *decimal.Decimal  `json:"totalPaid,omitempty"`
	SkipPrint      bool              `json:"skipPrint,omitempty"`
	ClientID       string            `json:"clientId,omitempty"`
	Timezone       string            `json:"timezone,omitempty"`
}

type ReprintRequest struct {
	ClientID string `json:"clientId,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type PrintResult struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Tier    string `json:"tier,omitempty"`
	Printer string `json:"printer,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type FiscalSummary struct {
	Kind      string `json:"kind"`
	Provider  string `json:"provider,omitempty"`
	Number    string `json:"number,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	Status    string `json:"status"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	Reused    bool   `json:"reused,omitempty"`
}

type SaleResponse struct {
	Sale     Sale           `json:"sale"`
	Fiscal   *FiscalSummary `json:"fiscal,omitempty"`
	Print    *PrintResult   `json:"print,omitempty"`
	Receipt  string         `json:"receipt,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

type ClientPrinterRegistration struct {
	Printers []ClientPrinter `json:"printers"`
}

type PrinterCreateRequest struct {
	Name       string `json:"name"`
	Connection string `json:"connection"`
}

type SaleCompletedEvent struct {
	SaleID      string    `json:"sale_id"`
	TenantID    string    `json:"tenant_id"`
	SellerID    string    `json:"seller_id"`
	TotalCents  int64     `json:"total_cents"`
	Installment bool      `json:"installment"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	PaymentCash        = "cash"
	PaymentDebit       = "debit"
	PaymentCredit      = "credit"
	PaymentPix         = "pix"
	PaymentInstallment = "installment"
)

const (
	FiscalKindNFCe = "nfce"
	FiscalKindMock = "mock"
)

const (
	FiscalStatusAuthorized = "AUTHORIZED"
	FiscalStatusMock       = "MOCK"
)

const (
	PrinterStatusConnected    = "connected"
	PrinterStatusDisconnected = "disconnected"
)

const InstallmentStatusPending = "pending"

// TaxRates holds approximate tax burden percentages for one NCM code.
type TaxRates struct {
	NCM       string          `json:"ncm"`
	UF        string          `json:"uf"`
	Federal   decimal.Decimal `json:"federal"`
	State     decimal.Decimal `json:"state"`
	Municipal decimal.Decimal `json:"municipal"`
	Source    string          `json:"source"`
}

func (r TaxRates) Total() decimal.Decimal {
	return r.Federal.Add(r.State).Add(r.Municipal)
}

const (
	OutcomePrimary  = "primary"
	OutcomeFallback = "fallback"
)

// Outcome records which branch a degradable step took.
type Outcome struct {
	Branch string `json:"branch"`
	Reason string `json:"reason,omitempty"`
}

func Primary() Outcome {
	return Outcome{Branch: OutcomePrimary}
}

func Fallback(reason string) Outcome {
	return Outcome{Branch: OutcomeFallback, Reason: reason}
}

func (o Outcome) IsFallback() bool {
	return o.Branch == OutcomeFallback
}
