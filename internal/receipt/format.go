package receipt

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"caixafacil/backend/internal/domain"
)

// Money formats cents as 1234,50: comma separator, two decimals, no grouping.
func Money(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d,%02d", sign, cents/100, cents%100)
}

// Decimal formats an amount the same way Money does.
func Decimal(d decimal.Decimal) string {
	return strings.Replace(d.StringFixed(2), ".", ",", 1)
}

func formatDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("02/01/2006 15:04:05")
}

// GroupAccessKey renders the access key in space-separated groups of four.
func GroupAccessKey(key string) string {
	var b strings.Builder
	for i, r := range key {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func paymentLabel(method string) string {
	switch method {
	case domain.PaymentCash:
		return "Dinheiro"
	case domain.PaymentDebit:
		return "Cartao de Debito"
	case domain.PaymentCredit:
		return "Cartao de Credito"
	case domain.PaymentPix:
		return "PIX"
	case domain.PaymentInstallment:
		return "Crediario"
	}
	return method
}

type page struct {
	width int
	lines []string
}

func (p *page) add(line string) {
	p.lines = append(p.lines, truncate(line, p.width))
}

// wrap breaks long free text (addresses, URLs) over several lines.
func (p *page) wrap(text string) {
	runes := []rune(text)
	for len(runes) > p.width {
		p.lines = append(p.lines, string(runes[:p.width]))
		runes = runes[p.width:]
	}
	p.lines = append(p.lines, string(runes))
}

func (p *page) center(text string) {
	text = truncate(text, p.width)
	pad := (p.width - utf8.RuneCountInString(text)) / 2
	p.lines = append(p.lines, strings.Repeat(" ", pad)+text)
}

func (p *page) rule() {
	p.lines = append(p.lines, strings.Repeat("-", p.width))
}

// pair puts left and right on one line, shortening left when needed.
func (p *page) pair(left string, right string) {
	room := p.width - utf8.RuneCountInString(right) - 1
	if room < 1 {
		p.add(right)
		return
	}
	left = truncate(left, room)
	gap := p.width - utf8.RuneCountInString(left) - utf8.RuneCountInString(right)
	p.lines = append(p.lines, left+strings.Repeat(" ", gap)+right)
}

func (p *page) String() string {
	return strings.Join(p.lines, "\n") + "\n"
}

func truncate(text string, width int) string {
	if utf8.RuneCountInString(text) <= width {
		return text
	}
	return string([]rune(text)[:width])
}
