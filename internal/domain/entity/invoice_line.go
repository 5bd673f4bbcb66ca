package entity

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// LineTolerance diferencia máxima admitida entre gross y net+tax.
var LineTolerance = decimal.New(1, -2)

// InvoiceLine representa una línea de detalle de un comprobante.
type InvoiceLine struct {
	ID          int64           `db:"id"`
	InvoiceID   int64           `db:"invoice_id"`
	Description string          `db:"description"`
	Quantity    decimal.Decimal `db:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price"`
	TaxRate     decimal.Decimal `db:"tax_rate"` // porcentaje (21, 10.5, ...)
	NetAmount   decimal.Decimal `db:"net_amount"`
	TaxAmount   decimal.Decimal `db:"tax_amount"`
	GrossAmount decimal.Decimal `db:"gross_amount"`
}

// Consistent indica si gross = net + tax dentro de la tolerancia de redondeo.
func (l *InvoiceLine) Consistent() bool {
	diff := l.GrossAmount.Sub(l.NetAmount.Add(l.TaxAmount)).Abs()
	return diff.LessThanOrEqual(LineTolerance)
}

// Negated devuelve una copia con importes y precio unitario negados (líneas de nota de crédito).
func (l *InvoiceLine) Negated() *InvoiceLine {
	return &InvoiceLine{
		Description: l.Description,
		Quantity:    l.Quantity,
		UnitPrice:   l.UnitPrice.Neg(),
		TaxRate:     l.TaxRate,
		NetAmount:   l.NetAmount.Neg(),
		TaxAmount:   l.TaxAmount.Neg(),
		GrossAmount: l.GrossAmount.Neg(),
	}
}

// ValidateLines verifica la consistencia de todas las líneas.
func ValidateLines(lines []*InvoiceLine) error {
	for i, l := range lines {
		if l == nil {
			continue
		}
		if !l.Consistent() {
			return fmt.Errorf("línea %d: total %s distinto de neto %s + IVA %s",
				i+1, l.GrossAmount.StringFixed(2), l.NetAmount.StringFixed(2), l.TaxAmount.StringFixed(2))
		}
	}
	return nil
}
