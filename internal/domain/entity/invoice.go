package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice representa la cabecera de un comprobante (factura, nota de crédito o débito).
// Las notas de crédito se guardan con importes negativos (convención de libro con signo);
// el WSFE las recibe en valor absoluto.
type Invoice struct {
	ID           int64
	DocType      string // FA, FB, FC, NCA, NCB, NCC, NDA, NDB, NDC
	PointOfSale  int
	Number       int64
	Date         time.Time
	Currency     string // vacío o PES = moneda local
	ExchangeRate decimal.Decimal
	NetTotal     decimal.Decimal
	TaxTotal     decimal.Decimal
	GrossTotal   decimal.Decimal

	CustomerID               int64
	ReceiverDocType          int    // código AFIP (80 CUIT, 96 DNI, 99 consumidor final)
	ReceiverDocNumber        string // solo dígitos
	ReceiverIVAConditionID   int
	ReceiverIVAConditionCode string

	// Comprobante asociado (solo notas de crédito/débito).
	AssocDocType     string
	AssocPointOfSale int
	AssocNumber      int64

	StateID       int
	CAE           string
	CAEIssueDate  *time.Time // FchProceso informada por la autoridad
	CAEExpiration *time.Time
	Notes         string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasAssociation indica si la referencia explícita al comprobante asociado está completa.
func (i *Invoice) HasAssociation() bool {
	return i.AssocDocType != "" && i.AssocPointOfSale > 0 && i.AssocNumber > 0
}

// HasCAE indica si el comprobante tiene CAE y vencimiento.
func (i *Invoice) HasCAE() bool {
	return i.CAE != "" && i.CAEExpiration != nil
}
