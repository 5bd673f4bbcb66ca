package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AuthorityMessage par código/mensaje informado por la autoridad (Err, Obs o Events).
type AuthorityMessage struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// String devuelve "código - mensaje" (o solo el mensaje si no hay código).
func (m AuthorityMessage) String() string {
	if m.Code == 0 {
		return m.Msg
	}
	return fmt.Sprintf("%d - %s", m.Code, m.Msg)
}

// AuthorizationResult resultado estructurado de toda operación del núcleo fiscal.
// Approved y Rejected son excluyentes; ambos en false significa error de comunicación.
type AuthorizationResult struct {
	InvoiceID         int64              `json:"invoice_id"`
	Approved          bool               `json:"approved"`
	Rejected          bool               `json:"rejected"`
	AlreadyAuthorized bool               `json:"already_authorized"`
	CAE               string             `json:"cae,omitempty"`
	ProcessDate       *time.Time         `json:"process_date,omitempty"`
	CAEExpiration     *time.Time         `json:"cae_expiration,omitempty"`
	NewStateID        int                `json:"new_state_id"`
	CbteTipo          int                `json:"cbte_tipo,omitempty"`
	PointOfSale       int                `json:"point_of_sale,omitempty"`
	Number            int64              `json:"number,omitempty"`
	Errors            []AuthorityMessage `json:"errors"`
	Observations      []AuthorityMessage `json:"observations"`
	Events            []AuthorityMessage `json:"events,omitempty"`
	Summary           string             `json:"summary"`
	// VoidedInvoiceID factura pasada a Anulada por NC junto con la aprobación de esta nota.
	VoidedInvoiceID int64 `json:"voided_invoice_id,omitempty"`
}

// Outcome devuelve el resultado en texto: aprobado, rechazado o error de comunicación.
func (r *AuthorizationResult) Outcome() string {
	switch {
	case r.Approved:
		return "aprobado"
	case r.Rejected:
		return "rechazado"
	default:
		return "error de comunicación"
	}
}

// HasErrorCode indica si algún error cumple match (p.ej. códigos de token 600 y 601).
func (r *AuthorizationResult) HasErrorCode(match func(code int) bool) bool {
	for _, e := range r.Errors {
		if match(e.Code) {
			return true
		}
	}
	return false
}

// DiagnosticLine concatena errores y observaciones separados por " | ".
func (r *AuthorizationResult) DiagnosticLine() string {
	parts := make([]string, 0, len(r.Errors)+len(r.Observations))
	for _, e := range r.Errors {
		parts = append(parts, e.String())
	}
	for _, o := range r.Observations {
		parts = append(parts, o.String())
	}
	return strings.Join(parts, " | ")
}

// CreditNoteResult AuthorizationResult extendido con los datos de la nota de crédito emitida.
type CreditNoteResult struct {
	AuthorizationResult
	CreditNoteID      int64           `json:"nc_id"`
	DocType           string          `json:"nc_doc_type"`
	CreditPointOfSale int             `json:"nc_point_of_sale"`
	CreditNumber      int64           `json:"nc_number"`
	GrossTotal        decimal.Decimal `json:"nc_gross_total"`
	OriginalVoided    bool            `json:"original_voided"`
	Resumed           bool            `json:"resumed"` // se retomó una NC pendiente en lugar de crear otra
}

// LastAuthorized respuesta de FECompUltimoAutorizado.
type LastAuthorized struct {
	CbteTipo    int                `json:"cbte_tipo"`
	PointOfSale int                `json:"point_of_sale"`
	LastNumber  int64              `json:"last_number"`
	Errors      []AuthorityMessage `json:"errors"`
}

// CAEQuery respuesta de FECompConsultar.
type CAEQuery struct {
	Found         bool               `json:"found"`
	Result        string             `json:"result"` // A, R o vacío
	CAE           string             `json:"cae,omitempty"`
	ProcessDate   *time.Time         `json:"process_date,omitempty"`
	CAEExpiration *time.Time         `json:"cae_expiration,omitempty"`
	GrossTotal    decimal.Decimal    `json:"gross_total"`
	CbteTipo      int                `json:"cbte_tipo"`
	PointOfSale   int                `json:"point_of_sale"`
	Number        int64              `json:"number"`
	Errors        []AuthorityMessage `json:"errors"`
	Observations  []AuthorityMessage `json:"observations"`
}

// Approved indica si la autoridad registra el comprobante aprobado con CAE.
func (q *CAEQuery) Approved() bool {
	return q.Found && q.Result == "A" && q.CAE != ""
}
