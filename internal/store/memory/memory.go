package memory

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"caixafacil/backend/internal/domain"
	"caixafacil/backend/internal/store"
	"caixafacil/backend/internal/xid"
)

const (
	DemoTenantID         = "loja-demo"
	DemoNoFiscalTenantID = "loja-sem-fiscal"
	DemoSellerID         = "vendedor-demo"
	DemoCustomerID       = "cliente-demo"
)

type Store struct {
	mu           sync.RWMutex
	tenants      map[string]domain.Tenant
	sellers      map[string]domain.Seller
	customers    map[string]domain.Customer
	products     map[string]domain.Product
	stock        map[string]map[string]int
	sales        map[string]*domain.Sale
	fiscalByID   map[string]domain.FiscalDocument
	fiscalBySale map[string]string
	fiscalByKey  map[string]string
	printersByID map[string]domain.RegisteredPrinter
}

func New() *Store {
	return &Store{
		tenants:      make(map[string]domain.Tenant),
		sellers:      make(map[string]domain.Seller),
		customers:    make(map[string]domain.Customer),
		products:     make(map[string]domain.Product),
		stock:        make(map[string]map[string]int),
		sales:        make(map[string]*domain.Sale),
		fiscalByID:   make(map[string]domain.FiscalDocument),
		fiscalBySale: make(map[string]string),
		fiscalByKey:  make(map[string]string),
		printersByID: make(map[string]domain.RegisteredPrinter),
	}
}

// NewSeeded builds a store with two demo tenants: one with a complete fiscal
// configuration on the local mock provider and one missing its state
// registration. The seller password comes from SEED_SELLER_PASSWORD.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()

	s.PutTenant(domain.Tenant{
		ID:       DemoTenantID,
		Name:     "Mercadinho Demo LTDA",
		Document: "11.222.333/0001-81",
		Address:  "Rua das Flores, 100 - Centro",
		Phone:    "(11) 4000-1234",
		Timezone: "America/Sao_Paulo",
		Fiscal: domain.FiscalConfig{
			Provider:          "mock",
			Environment:       "homologacao",
			CNPJ:              "11222333000181",
			StateRegistration: "110042490114",
			CertificateRef:    "certs/loja-demo.pfx",
			Series:            "1",
			MunicipalityCode:  "3550308",
			CSCID:             "000001",
			CSCToken:          "CSC-DEMO-TOKEN",
			State:             "SP",
			City:              "Sao Paulo",
		},
	})
	s.PutTenant(domain.Tenant{
		ID:       DemoNoFiscalTenantID,
		Name:     "Bazar Sem Fiscal ME",
		Document: "22.333.444/0001-90",
		Address:  "Av. Brasil, 2000",
		Fiscal: domain.FiscalConfig{
			Provider:         "mock",
			CNPJ:             "22333444000190",
			CertificateRef:   "certs/bazar.pfx",
			Series:           "1",
			MunicipalityCode: "3304557",
			CSCID:            "000001",
			CSCToken:         "CSC-BAZAR",
			State:            "RJ",
			City:             "Rio de Janeiro",
		},
	})

	password := os.Getenv("SEED_SELLER_PASSWORD")
	if password == "" {
		password = "vendedor123"
		logger.Warn("memory store using default dev seller password; set SEED_SELLER_PASSWORD to override")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		logger.Fatal("hash seed seller password", zap.Error(err))
	}
	s.PutSeller(domain.Seller{
		ID:           DemoSellerID,
		TenantID:     DemoTenantID,
		Name:         "Vendedor Demo",
		Email:        "vendedor@demo.com.br",
		PasswordHash: string(hash),
		Role:         "seller",
		Active:       true,
	})
	s.PutCustomer(domain.Customer{ID: DemoCustomerID, TenantID: DemoTenantID, Name: "Maria Cliente", Document: "12345678909"})

	for _, p := range []domain.Product{
		{ID: "prod-arroz", Name: "Arroz Tipo 1 5kg", NCM: "10063021", CFOP: "5102", Unit: "UN", PriceCents: 2890},
		{ID: "prod-feijao", Name: "Feijao Carioca 1kg", NCM: "07133399", CFOP: "5102", Unit: "UN", PriceCents: 899},
		{ID: "prod-cafe", Name: "Cafe Torrado e Moido 500g", NCM: "09012100", CFOP: "5102", Unit: "UN", PriceCents: 1650},
		{ID: "prod-refri", Name: "Refrigerante Cola 2L", NCM: "22021000", CFOP: "5405", Unit: "UN", PriceCents: 1050},
		{ID: "prod-sabao", Name: "Sabao em Po 1kg", NCM: "34022000", CFOP: "5102", Unit: "UN", PriceCents: 1399},
	} {
		for _, tenantID := range []string{DemoTenantID, DemoNoFiscalTenantID} {
			product := p
			product.TenantID = tenantID
			product.Active = true
			if tenantID != DemoTenantID {
				product.ID = p.ID + "-bazar"
			}
			s.PutProduct(product)
			s.SetStock(tenantID, product.ID, 100)
		}
	}

	return s
}

func (s *Store) PutTenant(tenant domain.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[tenant.ID] = tenant
}

func (s *Store) PutSeller(seller domain.Seller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seller.Email = strings.ToLower(strings.TrimSpace(seller.Email))
	s.sellers[seller.ID] = seller
}

func (s *Store) PutCustomer(customer domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[customer.ID] = customer
}

func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

func (s *Store) SetStock(tenantID string, productID string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stock[tenantID] == nil {
		s.stock[tenantID] = make(map[string]int)
	}
	s.stock[tenantID][productID] = qty
}

func (s *Store) Stock(tenantID string, productID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stock[tenantID][productID]
}

func (s *Store) GetTenant(_ context.Context, tenantID string) (*domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenant, ok := s.tenants[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &tenant, nil
}

func (s *Store) FindSellerByEmail(_ context.Context, email string) (*domain.Seller, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, seller := range s.sellers {
		if seller.Email == email {
			found := seller
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetSeller(_ context.Context, tenantID string, sellerID string) (*domain.Seller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seller, ok := s.sellers[sellerID]
	if !ok || seller.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return &seller, nil
}

func (s *Store) GetCustomer(_ context.Context, tenantID string, customerID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	customer, ok := s.customers[customerID]
	if !ok || customer.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, tenantID string, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		product, ok := s.products[id]
		if !ok || !product.Active || product.TenantID != tenantID {
			continue
		}
		result[id] = product
	}
	return result, nil
}

func (s *Store) GetStockMap(_ context.Context, tenantID string, ids []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]int, len(ids))
	for _, id := range ids {
		result[id] = s.stock[tenantID][id]
	}
	return result, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.TenantID == "" || len(sale.Lines) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]int, len(sale.Lines))
	for _, line := range sale.Lines {
		if line.Qty < 1 {
			return nil, store.ErrValidation
		}
		product, ok := s.products[line.ProductID]
		if !ok || product.TenantID != sale.TenantID {
			return nil, store.ErrNotFound
		}
		wanted[line.ProductID] += line.Qty
	}
	for productID, qty := range wanted {
		if s.stock[sale.TenantID][productID] < qty {
			return nil, store.ErrInsufficientStock
		}
	}
	for _, entry := range sale.Installments {
		customer, ok := s.customers[entry.CustomerID]
		if !ok || customer.TenantID != sale.TenantID {
			return nil, store.ErrNotFound
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	for i := range sale.Installments {
		sale.Installments[i].SaleID = sale.ID
		if sale.Installments[i].ID == "" {
			sale.Installments[i].ID = xid.New("inst")
		}
	}
	for productID, qty := range wanted {
		s.stock[sale.TenantID][productID] -= qty
	}

	saved := cloneSale(sale)
	s.sales[sale.ID] = &saved
	created := cloneSale(sale)
	return &created, nil
}

func (s *Store) FindSaleByID(_ context.Context, tenantID string, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.sales[saleID]
	if !ok || sale.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	found := cloneSale(*sale)
	return &found, nil
}

func (s *Store) CreateFiscalDocument(_ context.Context, doc domain.FiscalDocument) (*domain.FiscalDocument, error) {
	if doc.TenantID == "" || doc.SaleID == "" || doc.AccessKey == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := doc.TenantID + "|" + doc.AccessKey
	if _, exists := s.fiscalByKey[key]; exists {
		return nil, store.ErrDuplicate
	}
	if doc.ID == "" {
		doc.ID = xid.New("doc")
	}
	if doc.IssuedAt.IsZero() {
		doc.IssuedAt = time.Now().UTC()
	}
	s.fiscalByID[doc.ID] = doc
	s.fiscalByKey[key] = doc.ID
	s.fiscalBySale[doc.TenantID+"|"+doc.SaleID] = doc.ID
	return &doc, nil
}

func (s *Store) FindFiscalDocumentBySale(_ context.Context, tenantID string, saleID string) (*domain.FiscalDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.fiscalBySale[tenantID+"|"+saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	doc := s.fiscalByID[id]
	return &doc, nil
}

func (s *Store) FindFiscalDocumentByAccessKey(_ context.Context, tenantID string, accessKey string) (*domain.FiscalDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.fiscalByKey[tenantID+"|"+accessKey]
	if !ok {
		return nil, store.ErrNotFound
	}
	doc := s.fiscalByID[id]
	return &doc, nil
}

// FiscalDocumentCount is used by tests asserting reissue idempotence.
func (s *Store) FiscalDocumentCount(saleID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, doc := range s.fiscalByID {
		if doc.SaleID == saleID {
			count++
		}
	}
	return count
}

func (s *Store) CreatePrinter(_ context.Context, printer domain.RegisteredPrinter) (*domain.RegisteredPrinter, error) {
	printer.Name = strings.TrimSpace(printer.Name)
	if printer.TenantID == "" || printer.Name == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.printersByID {
		if existing.TenantID == printer.TenantID && strings.EqualFold(existing.Name, printer.Name) {
			return nil, store.ErrDuplicate
		}
	}
	if printer.ID == "" {
		printer.ID = xid.New("prn")
	}
	if printer.Status == "" {
		printer.Status = domain.PrinterStatusConnected
	}
	if printer.CreatedAt.IsZero() {
		printer.CreatedAt = time.Now().UTC()
	}
	s.printersByID[printer.ID] = printer
	return &printer, nil
}

func (s *Store) ListPrinters(_ context.Context, tenantID string) ([]domain.RegisteredPrinter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	printers := make([]domain.RegisteredPrinter, 0, 4)
	for _, printer := range s.printersByID {
		if printer.TenantID == tenantID {
			printers = append(printers, printer)
		}
	}
	sort.Slice(printers, func(i, j int) bool {
		return printers[i].CreatedAt.After(printers[j].CreatedAt)
	})
	return printers, nil
}

func (s *Store) TouchPrinter(_ context.Context, tenantID string, printerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	printer, ok := s.printersByID[printerID]
	if !ok || printer.TenantID != tenantID {
		return store.ErrNotFound
	}
	usedAt := at.UTC()
	printer.LastUsedAt = &usedAt
	s.printersByID[printerID] = printer
	return nil
}

func cloneSale(sale domain.Sale) domain.Sale {
	out := sale
	out.Lines = append([]domain.SaleLine(nil), sale.Lines...)
	out.Payments = append([]domain.PaymentInstrument(nil), sale.Payments...)
	out.Installments = append([]domain.InstallmentEntry(nil), sale.Installments...)
	return out
}
