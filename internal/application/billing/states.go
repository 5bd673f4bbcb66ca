package billing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/jhoicas/facturacion-afip/internal/domain"
	"github.com/jhoicas/facturacion-afip/internal/domain/entity"
	"github.com/jhoicas/facturacion-afip/internal/domain/repository"
)

// Event resultado que dispara una transición de estado.
type Event int

const (
	EventApproved Event = iota + 1
	EventRejected
	EventCommunicationError
	EventCreditNote
)

func (e Event) String() string {
	switch e {
	case EventApproved:
		return "authorize-ok"
	case EventRejected:
		return "authorize-reject"
	case EventCommunicationError:
		return "authorize-error"
	case EventCreditNote:
		return "credit-note-ok"
	}
	return "unknown"
}

// StateMachine tabla de transiciones sobre los ids resueltos del catálogo.
type StateMachine struct {
	States entity.StateSet
	table  map[int]map[Event]int
}

// NewStateMachine arma la tabla de transiciones. PendingAuthority se comporta como Draft.
func NewStateMachine(s entity.StateSet) StateMachine {
	authorizable := map[Event]int{
		EventApproved:           s.Authorized,
		EventRejected:           s.Rejected,
		EventCommunicationError: s.CommunicationError,
	}
	table := map[int]map[Event]int{
		s.Draft:              authorizable,
		s.Rejected:           authorizable,
		s.CommunicationError: authorizable,
		s.Authorized:         {EventCreditNote: s.VoidedByCreditNote},
	}
	if s.PendingAuthority != 0 {
		table[s.PendingAuthority] = authorizable
	}
	return StateMachine{States: s, table: table}
}

// Next devuelve el estado destino o domain.ErrInvalidState si la transición no existe.
func (m StateMachine) Next(from int, ev Event) (int, error) {
	if to, ok := m.table[from][ev]; ok && to != 0 {
		return to, nil
	}
	return 0, fmt.Errorf("%w: %s no admite %s", domain.ErrInvalidState, m.States.Name(from), ev)
}

// CanAuthorize indica si el estado admite una solicitud de CAE.
func (m StateMachine) CanAuthorize(from int) bool {
	_, ok := m.table[from][EventApproved]
	return ok
}

// Alias aceptados por estado, ya normalizados (minúsculas, sin acentos).
var stateAliases = map[string][]string{
	entity.StateNameDraft:              {"borrador", "draft"},
	entity.StateNamePendingAuthority:   {"pendiente afip", "pendiente", "pending", "pending authority"},
	entity.StateNameAuthorized:         {"autorizada", "autorizado", "authorized"},
	entity.StateNameRejected:           {"rechazada", "rechazado", "rejected"},
	entity.StateNameVoided:             {"anulada", "anulado", "voided"},
	entity.StateNameVoidedByCreditNote: {"anulada por nc", "anulada por nota de credito", "anulado por nc", "voided by credit note"},
	entity.StateNameCommunicationError: {"error de comunicacion", "error comunicacion", "communication error"},
}

// normalizeStateName pasa a minúsculas, quita acentos y colapsa espacios.
func normalizeStateName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// ResolveStates busca los ids de los estados por nombre en el catálogo.
// Borrador, Autorizada, Rechazada, Anulada por NC y Error de comunicación son obligatorios.
func ResolveStates(ctx context.Context, catalog repository.CatalogRepository) (entity.StateSet, error) {
	rows, err := catalog.ListInvoiceStates(ctx)
	if err != nil {
		return entity.StateSet{}, fmt.Errorf("listar estados: %w", err)
	}
	return ResolveStateRows(rows)
}

// ResolveStateRows resuelve el StateSet a partir de las filas del catálogo.
func ResolveStateRows(rows []entity.InvoiceStateRow) (entity.StateSet, error) {
	byName := make(map[string]int, len(rows))
	for _, r := range rows {
		byName[normalizeStateName(r.Name)] = r.ID
	}
	lookup := func(canonical string) int {
		for _, alias := range stateAliases[canonical] {
			if id, ok := byName[alias]; ok {
				return id
			}
		}
		return 0
	}

	s := entity.StateSet{
		Draft:              lookup(entity.StateNameDraft),
		PendingAuthority:   lookup(entity.StateNamePendingAuthority),
		Authorized:         lookup(entity.StateNameAuthorized),
		Rejected:           lookup(entity.StateNameRejected),
		Voided:             lookup(entity.StateNameVoided),
		VoidedByCreditNote: lookup(entity.StateNameVoidedByCreditNote),
		CommunicationError: lookup(entity.StateNameCommunicationError),
	}

	var missing []string
	for name, id := range map[string]int{
		entity.StateNameDraft:              s.Draft,
		entity.StateNameAuthorized:         s.Authorized,
		entity.StateNameRejected:           s.Rejected,
		entity.StateNameVoidedByCreditNote: s.VoidedByCreditNote,
		entity.StateNameCommunicationError: s.CommunicationError,
	} {
		if id == 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return s, fmt.Errorf("%w: estados sin catalogar: %s", domain.ErrConfiguration, strings.Join(missing, ", "))
	}
	return s, nil
}
