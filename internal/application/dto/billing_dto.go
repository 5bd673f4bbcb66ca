package dto

import "github.com/jhoicas/facturacion-afip/internal/domain/entity"

// AuthorizationResponse respuesta de POST /api/invoices/:id/authorize.
// State es el nombre del estado en el que quedó el comprobante.
type AuthorizationResponse struct {
	*entity.AuthorizationResult
	State string `json:"state"`
}

// CreditNoteResponse respuesta de POST /api/invoices/:id/credit-note.
type CreditNoteResponse struct {
	*entity.CreditNoteResult
	State string `json:"state"` // estado de la NC
}

// ResyncResponse respuesta de POST /api/invoices/resync.
type ResyncResponse struct {
	*entity.ResyncSummary
}

// ResyncErrorResponse error de POST /api/invoices/resync con lo procesado hasta la interrupción.
type ResyncErrorResponse struct {
	ErrorResponse
	Summary *entity.ResyncSummary `json:"summary,omitempty"`
}

// LastAuthorizedQuery query string de GET /api/afip/last-authorized.
type LastAuthorizedQuery struct {
	DocType     string `query:"doc_type"`
	PointOfSale int    `query:"pos"`
}

// LastAuthorizedResponse último número autorizado por la autoridad.
type LastAuthorizedResponse struct {
	DocType     string `json:"doc_type"`
	PointOfSale int    `json:"point_of_sale"`
	LastNumber  int64  `json:"last_number"`
	NextNumber  int64  `json:"next_number"`
}
