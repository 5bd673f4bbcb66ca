package entity

import "time"

// ResyncSummary resultado de una corrida de resincronización.
type ResyncSummary struct {
	BatchID             string    `json:"batch_id"`
	StartedAt           time.Time `json:"started_at"`
	Processed           int       `json:"processed"`
	Approved            int       `json:"approved"`
	Rejected            int       `json:"rejected"`
	CommunicationErrors int       `json:"communication_errors"`
	Recovered           int       `json:"recovered"` // CAE adoptado tras FECompConsultar
	Skipped             int       `json:"skipped"`   // errores de configuración, sin transición
	Details             []string  `json:"details"`
}

// VerifyResult compara el estado local de un comprobante con lo registrado por la autoridad.
type VerifyResult struct {
	InvoiceID    int64     `json:"invoice_id"`
	DocType      string    `json:"doc_type"`
	PointOfSale  int       `json:"point_of_sale"`
	Number       int64     `json:"number"`
	LocalStateID int       `json:"local_state_id"`
	LocalState   string    `json:"local_state"`
	LocalCAE     string    `json:"local_cae,omitempty"`
	Remote       *CAEQuery `json:"remote"`
	Consistent   bool      `json:"consistent"`
}
