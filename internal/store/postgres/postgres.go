package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"caixafacil/backend/internal/domain"
	"caixafacil/backend/internal/store"
	"caixafacil/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the idempotent schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *Store) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, document, address, phone, timezone,
			fiscal_provider, fiscal_api_token, fiscal_environment, cnpj, state_registration,
			certificate_ref, nfce_series, municipality_code, csc_id, csc_token, state, city
		FROM tenants
		WHERE id = $1
	`, tenantID).Scan(&t.ID, &t.Name, &t.Document, &t.Address, &t.Phone, &t.Timezone,
		&t.Fiscal.Provider, &t.Fiscal.APIToken, &t.Fiscal.Environment, &t.Fiscal.CNPJ, &t.Fiscal.StateRegistration,
		&t.Fiscal.CertificateRef, &t.Fiscal.Series, &t.Fiscal.MunicipalityCode, &t.Fiscal.CSCID, &t.Fiscal.CSCToken,
		&t.Fiscal.State, &t.Fiscal.City)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) FindSellerByEmail(ctx context.Context, email string) (*domain.Seller, error) {
	var seller domain.Seller
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, email, password_hash, role, active
		FROM sellers
		WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email))).Scan(&seller.ID, &seller.TenantID, &seller.Name, &seller.Email, &seller.PasswordHash, &seller.Role, &seller.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &seller, nil
}

func (s *Store) GetSeller(ctx context.Context, tenantID string, sellerID string) (*domain.Seller, error) {
	var seller domain.Seller
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, email, password_hash, role, active
		FROM sellers
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, sellerID).Scan(&seller.ID, &seller.TenantID, &seller.Name, &seller.Email, &seller.PasswordHash, &seller.Role, &seller.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &seller, nil
}

func (s *Store) GetCustomer(ctx context.Context, tenantID string, customerID string) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, document
		FROM customers
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, customerID).Scan(&customer.ID, &customer.TenantID, &customer.Name, &customer.Document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, tenantID string, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, ncm, cfop, unit, price_cents, active
		FROM products
		WHERE tenant_id = $1 AND active = true AND id = ANY($2)
	`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.NCM, &p.CFOP, &p.Unit, &p.PriceCents, &p.Active); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetStockMap(ctx context.Context, tenantID string, ids []string) (map[string]int, error) {
	stockMap := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return stockMap, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, qty
		FROM product_stocks
		WHERE tenant_id = $1 AND product_id = ANY($2)
	`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		stockMap[id] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, ok := stockMap[id]; !ok {
			stockMap[id] = 0
		}
	}
	return stockMap, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.TenantID == "" || len(sale.Lines) == 0 {
		return nil, store.ErrValidation
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, tenant_id, seller_id, client_name, client_document,
			total_cents, paid_cents, change_cents, is_installment, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, sale.ID, sale.TenantID, sale.SellerID, sale.ClientName, sale.ClientDocument,
		sale.TotalCents, sale.PaidCents, sale.ChangeCents, sale.IsInstallment, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	for i, payment := range sale.Payments {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_payments (sale_id, line_no, method, amount_cents, customer_id, installments, first_due_date, description)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, sale.ID, i+1, payment.Method, payment.AmountCents, nullIfEmpty(payment.CustomerID),
			payment.Installments, payment.FirstDueDate, payment.Description)
		if err != nil {
			return nil, err
		}
	}

	for i := range sale.Installments {
		entry := &sale.Installments[i]
		entry.SaleID = sale.ID
		if entry.ID == "" {
			entry.ID = xid.New("inst")
		}
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO installments (id, sale_id, customer_id, number, count, amount_cents, remaining_amount_cents, due_date, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, entry.ID, entry.SaleID, entry.CustomerID, entry.Number, entry.Count,
			entry.AmountCents, entry.RemainingAmountCents, entry.DueDate, entry.Status)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
	}

	for i, line := range sale.Lines {
		if line.Qty < 1 {
			return nil, store.ErrValidation
		}
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, line_no, product_id, product_name, ncm, cfop, unit, qty, unit_price_cents, total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, sale.ID, i+1, line.ProductID, line.ProductName, line.NCM, line.CFOP, line.Unit,
			line.Qty, line.UnitPriceCents, line.TotalCents)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
	}

	// Decrements run in product order so concurrent sales lock rows consistently.
	wanted := aggregateQty(sale.Lines)
	for _, productID := range sortedKeys(wanted) {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE product_stocks
			SET qty = qty - $1, updated_at = now()
			WHERE tenant_id = $2 AND product_id = $3 AND qty >= $1
		`, wanted[productID], sale.TenantID, productID)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.ErrInsufficientStock
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) FindSaleByID(ctx context.Context, tenantID string, saleID string) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, seller_id, client_name, client_document,
			total_cents, paid_cents, change_cents, is_installment, created_at
		FROM sales
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, saleID).Scan(&sale.ID, &sale.TenantID, &sale.SellerID, &sale.ClientName, &sale.ClientDocument,
		&sale.TotalCents, &sale.PaidCents, &sale.ChangeCents, &sale.IsInstallment, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, ncm, cfop, unit, qty, unit_price_cents, total_cents
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY line_no
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var line domain.SaleLine
		if err := itemRows.Scan(&line.ProductID, &line.ProductName, &line.NCM, &line.CFOP, &line.Unit, &line.Qty, &line.UnitPriceCents, &line.TotalCents); err != nil {
			return nil, err
		}
		sale.Lines = append(sale.Lines, line)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	paymentRows, err := s.db.QueryContext(ctx, `
		SELECT method, amount_cents, customer_id, installments, first_due_date, description
		FROM sale_payments
		WHERE sale_id = $1
		ORDER BY line_no
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer paymentRows.Close()
	for paymentRows.Next() {
		var payment domain.PaymentInstrument
		var customerID sql.NullString
		if err := paymentRows.Scan(&payment.Method, &payment.AmountCents, &customerID, &payment.Installments, &payment.FirstDueDate, &payment.Description); err != nil {
			return nil, err
		}
		payment.CustomerID = customerID.String
		sale.Payments = append(sale.Payments, payment)
	}
	if err := paymentRows.Err(); err != nil {
		return nil, err
	}

	installmentRows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, customer_id, number, count, amount_cents, remaining_amount_cents, due_date, status
		FROM installments
		WHERE sale_id = $1
		ORDER BY number
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer installmentRows.Close()
	for installmentRows.Next() {
		var entry domain.InstallmentEntry
		if err := installmentRows.Scan(&entry.ID, &entry.SaleID, &entry.CustomerID, &entry.Number, &entry.Count,
			&entry.AmountCents, &entry.RemainingAmountCents, &entry.DueDate, &entry.Status); err != nil {
			return nil, err
		}
		entry.DueDate = dateUTC(entry.DueDate)
		sale.Installments = append(sale.Installments, entry)
	}
	if err := installmentRows.Err(); err != nil {
		return nil, err
	}

	return &sale, nil
}

func (s *Store) CreateFiscalDocument(ctx context.Context, doc domain.FiscalDocument) (*domain.FiscalDocument, error) {
	if doc.TenantID == "" || doc.SaleID == "" || doc.AccessKey == "" {
		return nil, store.ErrValidation
	}
	if doc.ID == "" {
		doc.ID = xid.New("doc")
	}
	if doc.IssuedAt.IsZero() {
		doc.IssuedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fiscal_documents (
			id, tenant_id, sale_id, kind, provider, number, series, access_key,
			protocol, status, raw_content, pdf_reference, qr_code_url, issued_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, doc.ID, doc.TenantID, doc.SaleID, doc.Kind, doc.Provider, doc.Number, doc.Series, doc.AccessKey,
		doc.Protocol, doc.Status, doc.RawContent, doc.PDFReference, doc.QRCodeURL, doc.IssuedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &doc, nil
}

func (s *Store) FindFiscalDocumentBySale(ctx context.Context, tenantID string, saleID string) (*domain.FiscalDocument, error) {
	return s.findFiscalDocument(ctx, `tenant_id = $1 AND sale_id = $2`, tenantID, saleID)
}

func (s *Store) FindFiscalDocumentByAccessKey(ctx context.Context, tenantID string, accessKey string) (*domain.FiscalDocument, error) {
	return s.findFiscalDocument(ctx, `tenant_id = $1 AND access_key = $2`, tenantID, accessKey)
}

func (s *Store) findFiscalDocument(ctx context.Context, where string, args ...any) (*domain.FiscalDocument, error) {
	var doc domain.FiscalDocument
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, sale_id, kind, provider, number, series, access_key,
			protocol, status, raw_content, pdf_reference, qr_code_url, issued_at
		FROM fiscal_documents
		WHERE `+where+`
		ORDER BY issued_at DESC
		LIMIT 1
	`, args...).Scan(&doc.ID, &doc.TenantID, &doc.SaleID, &doc.Kind, &doc.Provider, &doc.Number, &doc.Series, &doc.AccessKey,
		&doc.Protocol, &doc.Status, &doc.RawContent, &doc.PDFReference, &doc.QRCodeURL, &doc.IssuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	doc.IssuedAt = doc.IssuedAt.UTC()
	return &doc, nil
}

func (s *Store) CreatePrinter(ctx context.Context, printer domain.RegisteredPrinter) (*domain.RegisteredPrinter, error) {
	printer.Name = strings.TrimSpace(printer.Name)
	if printer.TenantID == "" || printer.Name == "" {
		return nil, store.ErrValidation
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO printers (id, tenant_id, name, connection, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, printer.ID, printer.TenantID, printer.Name, printer.Connection, printer.Status, printer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &printer, nil
}

func (s *Store) ListPrinters(ctx context.Context, tenantID string) ([]domain.RegisteredPrinter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, connection, status, created_at, last_used_at
		FROM printers
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	printers := make([]domain.RegisteredPrinter, 0, 4)
	for rows.Next() {
		var printer domain.RegisteredPrinter
		var lastUsed sql.NullTime
		if err := rows.Scan(&printer.ID, &printer.TenantID, &printer.Name, &printer.Connection, &printer.Status, &printer.CreatedAt, &lastUsed); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			at := lastUsed.Time.UTC()
			printer.LastUsedAt = &at
		}
		printers = append(printers, printer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return printers, nil
}

func (s *Store) TouchPrinter(ctx context.Context, tenantID string, printerID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE printers SET last_used_at = $3
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, printerID, at.UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func aggregateQty(lines []domain.SaleLine) map[string]int {
	wanted := make(map[string]int, len(lines))
	for _, line := range lines {
		wanted[line.ProductID] += line.Qty
	}
	return wanted
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
