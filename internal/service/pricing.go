package service

import (
	"context"
	"strings"

	"caixafacil/backend/internal/domain"
	"caixafacil/backend/internal/store"
)

// normalizeItems merges repeated product ids and keeps the first-seen order.
func normalizeItems(items []domain.SaleItemRequest) ([]domain.SaleItemRequest, error) {
	if len(items) == 0 {
		return nil, store.ErrValidation
	}
	agg := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" || item.Quantity < 1 {
			return nil, store.ErrValidation
		}
		if _, seen := agg[id]; !seen {
			order = append(order, id)
		}
		agg[id] += item.Quantity
	}

	normalized := make([]domain.SaleItemRequest, 0, len(order))
	for _, id := range order {
		normalized = append(normalized, domain.SaleItemRequest{ProductID: id, Quantity: agg[id]})
	}
	return normalized, nil
}

// resolveLines prices the cart against the tenant catalog. The stock check
// here is advisory; CreateSale enforces it again inside the transaction.
func (s *Service) resolveLines(ctx context.Context, tenantID string, items []domain.SaleItemRequest) ([]domain.SaleLine, int64, error) {
	normalized, err := normalizeItems(items)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]string, 0, len(normalized))
	for _, item := range normalized {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, 0, err
	}
	stock, err := s.repo.GetStockMap(ctx, tenantID, ids)
	if err != nil {
		return nil, 0, err
	}

	lines := make([]domain.SaleLine, 0, len(normalized))
	var total int64
	for _, item := range normalized {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, 0, store.ErrNotFound
		}
		if item.Quantity > stock[item.ProductID] {
			return nil, 0, store.ErrInsufficientStock
		}
		line := domain.SaleLine{
			ProductID:      product.ID,
			ProductName:    product.Name,
			NCM:            product.NCM,
			CFOP:           product.CFOP,
			Unit:           product.Unit,
			Qty:            item.Quantity,
			UnitPriceCents: product.PriceCents,
			TotalCents:     int64(item.Quantity) * product.PriceCents,
		}
		total += line.TotalCents
		lines = append(lines, line)
	}
	return lines, total, nil
}
