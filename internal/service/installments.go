package service

import (
	"time"

	"go.uber.org/zap"

	"caixafacil/backend/internal/domain"
)

var dueDateLayouts = []string{"2006-01-02", time.RFC3339, "02/01/2006"}

func parseDueDate(value string) (time.Time, bool) {
	for _, layout := range dueDateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			y, m, d := parsed.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// addMonths moves by calendar months, clamping the day to the end of the
// target month (31/01 + 1 month = 28/02 or 29/02).
func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

// buildInstallmentSchedule splits the instrument into N monthly rows whose
// amounts sum exactly to the instrument amount; the remainder cents go to
// the last row.
func buildInstallmentSchedule(instrument domain.PaymentInstrument, now time.Time, logger *zap.Logger) []domain.InstallmentEntry {
	count := instrument.Installments
	if count < 1 {
		count = 1
	}

	first, ok := parseDueDate(instrument.FirstDueDate)
	if !ok {
		y, m, d := now.Date()
		first = addMonths(time.Date(y, m, d, 0, 0, 0, 0, time.UTC), 1)
		logger.Warn("unparseable first due date, using today plus one month",
			zap.String("first_due_date", instrument.FirstDueDate),
			zap.String("customer_id", instrument.CustomerID),
			zap.Time("due_date", first),
		)
	}

	base := instrument.AmountCents / int64(count)
	remainder := instrument.AmountCents - base*int64(count)

	entries := make([]domain.InstallmentEntry, 0, count)
	for i := 0; i < count; i++ {
		amount := base
		if i == count-1 {
			amount += remainder
		}
		entries = append(entries, domain.InstallmentEntry{
			CustomerID:           instrument.CustomerID,
			Number:               i + 1,
			Count:                count,
			AmountCents:          amount,
			RemainingAmountCents: amount,
			DueDate:              addMonths(first, i),
			Status:               domain.InstallmentStatusPending,
		})
	}
	return entries
}
