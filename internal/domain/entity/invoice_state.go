package entity

// Nombres canónicos de los estados del comprobante en el catálogo invoice_states.
const (
	StateNameDraft              = "Borrador"
	StateNamePendingAuthority   = "Pendiente AFIP"
	StateNameAuthorized         = "Autorizada"
	StateNameRejected           = "Rechazada"
	StateNameVoided             = "Anulada"
	StateNameVoidedByCreditNote = "Anulada por NC"
	StateNameCommunicationError = "Error de comunicación"
)

// StateSet ids numéricos de los estados, resueltos por nombre al iniciar.
type StateSet struct {
	Draft              int
	PendingAuthority   int
	Authorized         int
	Rejected           int
	Voided             int
	VoidedByCreditNote int
	CommunicationError int
}

// IsTerminal indica si el estado no es alcanzado por la resincronización.
func (s StateSet) IsTerminal(id int) bool {
	return id == s.Authorized || id == s.Voided || id == s.VoidedByCreditNote
}

// NonTerminal devuelve los estados sujetos a resincronización. Los ids no resueltos (0) se omiten.
func (s StateSet) NonTerminal() []int {
	out := make([]int, 0, 4)
	for _, id := range []int{s.Draft, s.PendingAuthority, s.Rejected, s.CommunicationError} {
		if id != 0 {
			out = append(out, id)
		}
	}
	return out
}

// Name devuelve el nombre canónico de un id (para logs y resúmenes).
func (s StateSet) Name(id int) string {
	switch id {
	case s.Draft:
		return StateNameDraft
	case s.PendingAuthority:
		return StateNamePendingAuthority
	case s.Authorized:
		return StateNameAuthorized
	case s.Rejected:
		return StateNameRejected
	case s.Voided:
		return StateNameVoided
	case s.VoidedByCreditNote:
		return StateNameVoidedByCreditNote
	case s.CommunicationError:
		return StateNameCommunicationError
	}
	return "desconocido"
}

// InvoiceStateRow fila del catálogo invoice_states.
type InvoiceStateRow struct {
	ID   int    `db:"id"`
	Name string `db:"name"`
}
