package service

import (
	"strings"

	"github.com/shopspring/decimal"

	"caixafacil/backend/internal/domain"
	"caixafacil/backend/internal/store"
)

// toleranceCents absorbs rounding on client-side totals (R$ 0,01).
const toleranceCents = 1

const maxInstallments = 60

type settlement struct {
	payments    []domain.PaymentInstrument
	paidCents   int64
	changeCents int64
	installment *domain.PaymentInstrument
}

var methodAliases = map[string]string{
	"cash":        domain.PaymentCash,
	"dinheiro":    domain.PaymentCash,
	"debit":       domain.PaymentDebit,
	"debito":      domain.PaymentDebit,
	"débito":      domain.PaymentDebit,
	"credit":      domain.PaymentCredit,
	"credito":     domain.PaymentCredit,
	"crédito":     domain.PaymentCredit,
	"pix":         domain.PaymentPix,
	"installment": domain.PaymentInstallment,
	"crediario":   domain.PaymentInstallment,
	"crediário":   domain.PaymentInstallment,
	"parcelado":   domain.PaymentInstallment,
}

func normalizeMethod(method string) (string, bool) {
	normalized, ok := methodAliases[strings.ToLower(strings.TrimSpace(method))]
	return normalized, ok
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// reconcilePayments checks the tendered instruments against the sale total.
// Change is only ever given in cash, so any excess must be covered by a cash
// instrument and non-cash instruments may not exceed the total.
func reconcilePayments(total int64, instruments []domain.PaymentRequest, totalPaid *decimal.Decimal, clientName string) (settlement, error) {
	if len(instruments) == 0 {
		return settlement{}, store.ErrValidation
	}

	var out settlement
	var sum, cash int64
	hasInstallment := false
	for _, req := range instruments {
		method, ok := normalizeMethod(req.Method)
		if !ok {
			return settlement{}, store.ErrValidation
		}
		amount := toCents(req.Amount)
		if amount <= 0 {
			return settlement{}, store.ErrValidation
		}

		payment := domain.PaymentInstrument{
			Method:      method,
			AmountCents: amount,
			Description: strings.TrimSpace(req.Description),
		}
		if method == domain.PaymentInstallment {
			if hasInstallment {
				return settlement{}, store.ErrValidation
			}
			payment.CustomerID = strings.TrimSpace(req.CustomerID)
			payment.Installments = req.Installments
			payment.FirstDueDate = strings.TrimSpace(req.FirstDueDate)
			if payment.CustomerID == "" || payment.FirstDueDate == "" || strings.TrimSpace(clientName) == "" {
				return settlement{}, store.ErrValidation
			}
			if payment.Installments < 1 || payment.Installments > maxInstallments {
				return settlement{}, store.ErrValidation
			}
			hasInstallment = true
		}

		sum += amount
		if method == domain.PaymentCash {
			cash += amount
		}
		out.payments = append(out.payments, payment)
	}
	for i := range out.payments {
		if out.payments[i].Method == domain.PaymentInstallment {
			out.installment = &out.payments[i]
		}
	}

	tendered := sum
	if totalPaid != nil {
		if totalPaid.IsNegative() {
			return settlement{}, store.ErrValidation
		}
		tendered = toCents(*totalPaid)
	}

	if tendered < total-toleranceCents || sum < total-toleranceCents {
		return settlement{}, store.ErrAmountMismatch
	}
	if sum-cash > total+toleranceCents {
		return settlement{}, store.ErrAmountMismatch
	}

	out.paidCents = tendered
	if tendered > total {
		out.changeCents = tendered - total
	}
	if out.changeCents > toleranceCents && cash == 0 {
		return settlement{}, store.ErrAmountMismatch
	}
	return out, nil
}
