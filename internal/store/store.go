package store

import (
	"context"
	"errors"
	"time"

	"caixafacil/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("registro não encontrado")
	ErrInsufficientStock = errors.New("estoque insuficiente")
	ErrValidation        = errors.New("dados inválidos")
	ErrAmountMismatch    = errors.New("valor pago não confere com o total da venda")
	ErrDuplicate         = errors.New("registro duplicado")
)

type Repository interface {
	GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error)
	FindSellerByEmail(ctx context.Context, email string) (*domain.Seller, error)
	GetSeller(ctx context.Context, tenantID string, sellerID string) (*domain.Seller, error)
	GetCustomer(ctx context.Context, tenantID string, customerID string) (*domain.Customer, error)

	// GetProductsByIDs returns only active products owned by tenantID.
	GetProductsByIDs(ctx context.Context, tenantID string, ids []string) (map[string]domain.Product, error)
	GetStockMap(ctx context.Context, tenantID string, ids []string) (map[string]int, error)

	// CreateSale persists the whole sale graph and decrements stock atomically.
	// It fails with ErrInsufficientStock, leaving nothing written, when any
	// decrement would drive stock below zero.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	FindSaleByID(ctx context.Context, tenantID string, saleID string) (*domain.Sale, error)

	CreateFiscalDocument(ctx context.Context, doc domain.FiscalDocument) (*domain.FiscalDocument, error)
	FindFiscalDocumentBySale(ctx context.Context, tenantID string, saleID string) (*domain.FiscalDocument, error)
	FindFiscalDocumentByAccessKey(ctx context.Context, tenantID string, accessKey string) (*domain.FiscalDocument, error)

	CreatePrinter(ctx context.Context, printer domain.RegisteredPrinter) (*domain.RegisteredPrinter, error)
	// ListPrinters returns the tenant printers newest first.
	ListPrinters(ctx context.Context, tenantID string) ([]domain.RegisteredPrinter, error)
	TouchPrinter(ctx context.Context, tenantID string, printerID string, at time.Time) error
}
