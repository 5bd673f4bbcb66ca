package billing_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/facturacion-afip/internal/domain"
	"github.com/jhoicas/facturacion-afip/internal/domain/entity"
	"github.com/jhoicas/facturacion-afip/internal/domain/repository"
)

// Ids del catálogo tal como los siembra la migración.
var states = entity.StateSet{
	Draft:              1,
	PendingAuthority:   2,
	Authorized:         3,
	Rejected:           4,
	Voided:             5,
	VoidedByCreditNote: 6,
	CommunicationError: 7,
}

var (
	art      = time.FixedZone("ART", -3*60*60)
	fixedNow = time.Date(2026, 10, 15, 10, 0, 0, 0, art)
)

// ──────────────────────────────────────────────────────────────────────────────
// Base en memoria: repositorios + TxRunner con rollback real
// ──────────────────────────────────────────────────────────────────────────────

type memDB struct {
	invoices   map[int64]*entity.Invoice
	lines      map[int64][]*entity.InvoiceLine
	nextID     int64
	nextLineID int64
	pos        map[int]*entity.PointOfSale
	iva        map[string]*entity.IVACondition

	writes     int  // escrituras confirmadas
	failCommit bool // simula una falla del COMMIT
	txCount    int
}

func newMemDB() *memDB {
	return &memDB{
		invoices: map[int64]*entity.Invoice{},
		lines:    map[int64][]*entity.InvoiceLine{},
		nextID:   100,
		pos:      map[int]*entity.PointOfSale{3: {Number: 3, Enabled: true}, 9: {Number: 9, Enabled: false}},
		iva: map[string]*entity.IVACondition{
			"CF": {ID: 5, Code: "CF", Description: "Consumidor Final"},
			"RI": {ID: 1, Code: "RI", Description: "IVA Responsable Inscripto"},
		},
	}
}

func cloneInvoice(inv *entity.Invoice) *entity.Invoice {
	c := *inv
	return &c
}

func cloneLine(l *entity.InvoiceLine) *entity.InvoiceLine {
	c := *l
	return &c
}

// seed inserta un comprobante con sus líneas sin contar escrituras.
func (db *memDB) seed(inv *entity.Invoice, lines ...*entity.InvoiceLine) *entity.Invoice {
	if inv.ID == 0 {
		db.nextID++
		inv.ID = db.nextID
	}
	db.invoices[inv.ID] = cloneInvoice(inv)
	for _, l := range lines {
		db.nextLineID++
		c := cloneLine(l)
		c.ID = db.nextLineID
		c.InvoiceID = inv.ID
		db.lines[inv.ID] = append(db.lines[inv.ID], c)
	}
	return inv
}

func (db *memDB) get(id int64) *entity.Invoice {
	if inv, ok := db.invoices[id]; ok {
		return cloneInvoice(inv)
	}
	return nil
}

type snapshot struct {
	invoices   map[int64]*entity.Invoice
	lines      map[int64][]*entity.InvoiceLine
	nextID     int64
	nextLineID int64
	writes     int
}

func (db *memDB) snapshot() snapshot {
	s := snapshot{
		invoices:   make(map[int64]*entity.Invoice, len(db.invoices)),
		lines:      make(map[int64][]*entity.InvoiceLine, len(db.lines)),
		nextID:     db.nextID,
		nextLineID: db.nextLineID,
		writes:     db.writes,
	}
	for id, inv := range db.invoices {
		s.invoices[id] = cloneInvoice(inv)
	}
	for id, ls := range db.lines {
		for _, l := range ls {
			s.lines[id] = append(s.lines[id], cloneLine(l))
		}
	}
	return s
}

func (db *memDB) restore(s snapshot) {
	db.invoices, db.lines = s.invoices, s.lines
	db.nextID, db.nextLineID, db.writes = s.nextID, s.nextLineID, s.writes
}

func (db *memDB) RunInvoiceTx(ctx context.Context, fn func(repository.InvoiceRepository, repository.CatalogRepository) error) error {
	db.txCount++
	snap := db.snapshot()
	if err := fn(db, db); err != nil {
		db.restore(snap)
		return err
	}
	if db.failCommit {
		db.restore(snap)
		return errors.New("commit transaction: conexión cerrada")
	}
	return nil
}

func (db *memDB) GetByID(ctx context.Context, id int64) (*entity.Invoice, error) {
	return db.get(id), nil
}

func (db *memDB) LockByID(ctx context.Context, id int64) (*entity.Invoice, error) {
	return db.get(id), nil
}

func (db *memDB) GetLines(ctx context.Context, invoiceID int64) ([]*entity.InvoiceLine, error) {
	var out []*entity.InvoiceLine
	for _, l := range db.lines[invoiceID] {
		out = append(out, cloneLine(l))
	}
	return out, nil
}

func (db *memDB) Create(ctx context.Context, inv *entity.Invoice) error {
	db.nextID++
	inv.ID = db.nextID
	db.invoices[inv.ID] = cloneInvoice(inv)
	db.writes++
	return nil
}

func (db *memDB) CreateLine(ctx context.Context, l *entity.InvoiceLine) error {
	db.nextLineID++
	l.ID = db.nextLineID
	db.lines[l.InvoiceID] = append(db.lines[l.InvoiceID], cloneLine(l))
	db.writes++
	return nil
}

func (db *memDB) ApplyTransition(ctx context.Context, id int64, t repository.Transition) error {
	inv, ok := db.invoices[id]
	if !ok {
		return fmt.Errorf("invoice %d: %w", id, domain.ErrNotFound)
	}
	if t.CAE != "" {
		for _, other := range db.invoices {
			if other.ID != id && other.CAE != "" && other.DocType == inv.DocType &&
				other.PointOfSale == inv.PointOfSale && other.Number == inv.Number {
				return fmt.Errorf("%w: número ya autorizado para otro comprobante", domain.ErrConflict)
			}
		}
		inv.CAE = t.CAE
	}
	inv.StateID = t.StateID
	if t.CAEIssueDate != nil {
		inv.CAEIssueDate = t.CAEIssueDate
	}
	if t.CAEExpiration != nil {
		inv.CAEExpiration = t.CAEExpiration
	}
	inv.Notes = entity.AppendNote(inv.Notes, t.AppendNote)
	db.writes++
	return nil
}

func (db *memDB) Renumber(ctx context.Context, id int64, number int64) error {
	inv, ok := db.invoices[id]
	if !ok {
		return fmt.Errorf("invoice %d: %w", id, domain.ErrNotFound)
	}
	inv.Number = number
	db.writes++
	return nil
}

func (db *memDB) NextNumber(ctx context.Context, docType string, pointOfSale int) (int64, error) {
	var top int64
	for _, inv := range db.invoices {
		if inv.DocType == docType && inv.PointOfSale == pointOfSale && inv.Number > top {
			top = inv.Number
		}
	}
	return top + 1, nil
}

func (db *memDB) MaxAuthorizedNumber(ctx context.Context, docType string, pointOfSale int, authorizedStateID int) (int64, error) {
	var top int64
	for _, inv := range db.invoices {
		if inv.DocType == docType && inv.PointOfSale == pointOfSale && inv.StateID == authorizedStateID && inv.Number > top {
			top = inv.Number
		}
	}
	return top, nil
}

func (db *memDB) SlotTaken(ctx context.Context, docType string, pointOfSale int, number int64) (bool, error) {
	for _, inv := range db.invoices {
		if inv.DocType == docType && inv.PointOfSale == pointOfSale && inv.Number == number && inv.CAE != "" {
			return true, nil
		}
	}
	return false, nil
}

func (db *memDB) LockIssued(ctx context.Context, docType string, pointOfSale int, number int64) (*entity.Invoice, error) {
	for _, inv := range db.invoices {
		if inv.DocType == docType && inv.PointOfSale == pointOfSale && inv.Number == number && inv.CAE != "" {
			return cloneInvoice(inv), nil
		}
	}
	return nil, nil
}

func (db *memDB) ListByAssociation(ctx context.Context, docType string, pointOfSale int, number int64) ([]*entity.Invoice, error) {
	var out []*entity.Invoice
	for _, inv := range db.invoices {
		if inv.AssocDocType == docType && inv.AssocPointOfSale == pointOfSale && inv.AssocNumber == number {
			out = append(out, cloneInvoice(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (db *memDB) ListByStates(ctx context.Context, stateIDs []int) ([]*entity.Invoice, error) {
	want := map[int]bool{}
	for _, s := range stateIDs {
		want[s] = true
	}
	var out []*entity.Invoice
	for _, inv := range db.invoices {
		if want[inv.StateID] {
			out = append(out, cloneInvoice(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DocType != b.DocType {
			return a.DocType < b.DocType
		}
		if a.PointOfSale != b.PointOfSale {
			return a.PointOfSale < b.PointOfSale
		}
		if a.Number != b.Number {
			return a.Number < b.Number
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (db *memDB) ListInvoiceStates(ctx context.Context) ([]entity.InvoiceStateRow, error) {
	return []entity.InvoiceStateRow{
		{ID: 1, Name: "Borrador"},
		{ID: 2, Name: "Pendiente AFIP"},
		{ID: 3, Name: "Autorizada"},
		{ID: 4, Name: "Rechazada"},
		{ID: 5, Name: "Anulada"},
		{ID: 6, Name: "Anulada por NC"},
		{ID: 7, Name: "Error de comunicación"},
	}, nil
}

func (db *memDB) GetIVAConditionByCode(ctx context.Context, code string) (*entity.IVACondition, error) {
	return db.iva[strings.ToUpper(strings.TrimSpace(code))], nil
}

func (db *memDB) GetPointOfSale(ctx context.Context, number int) (*entity.PointOfSale, error) {
	return db.pos[number], nil
}

// ──────────────────────────────────────────────────────────────────────────────
// WSAA y WSFE simulados
// ──────────────────────────────────────────────────────────────────────────────

type fakeWSAA struct {
	calls  int
	forced int
	err    error
}

func (f *fakeWSAA) GetAuth(ctx context.Context, forceRenew bool) (*entity.AuthTicket, error) {
	f.calls++
	if forceRenew {
		f.forced++
	}
	if f.err != nil {
		return nil, f.err
	}
	return &entity.AuthTicket{
		Token:      fmt.Sprintf("token-%d", f.calls),
		Sign:       "sign",
		IssuerCUIT: "20123456786",
		ExpiresAt:  fixedNow.Add(12 * time.Hour),
	}, nil
}

type fakeWSFE struct {
	requests []*entity.Invoice
	tickets  []string
	// respond recibe el índice de la llamada (desde 0); por defecto aprueba.
	respond func(n int, inv *entity.Invoice) (*entity.AuthorizationResult, error)

	last      map[string]int64
	lastErr   error
	lastCalls int

	queries    map[string]*entity.CAEQuery
	queryCalls int
}

func newFakeWSFE() *fakeWSFE {
	return &fakeWSFE{last: map[string]int64{}, queries: map[string]*entity.CAEQuery{}}
}

func (f *fakeWSFE) RequestCAE(ctx context.Context, ticket *entity.AuthTicket, inv *entity.Invoice) (*entity.AuthorizationResult, error) {
	n := len(f.requests)
	f.requests = append(f.requests, cloneInvoice(inv))
	f.tickets = append(f.tickets, ticket.Token)
	if f.respond == nil {
		return approved(inv, fmt.Sprintf("7%013d", inv.Number)), nil
	}
	return f.respond(n, inv)
}

func (f *fakeWSFE) LastAuthorized(ctx context.Context, ticket *entity.AuthTicket, docType string, pointOfSale int) (*entity.LastAuthorized, error) {
	f.lastCalls++
	if f.lastErr != nil {
		return nil, f.lastErr
	}
	return &entity.LastAuthorized{PointOfSale: pointOfSale, LastNumber: f.last[fmt.Sprintf("%s/%d", docType, pointOfSale)]}, nil
}

func (f *fakeWSFE) Query(ctx context.Context, ticket *entity.AuthTicket, docType string, pointOfSale int, number int64) (*entity.CAEQuery, error) {
	f.queryCalls++
	if q, ok := f.queries[fmt.Sprintf("%s/%d/%d", docType, pointOfSale, number)]; ok {
		return q, nil
	}
	return &entity.CAEQuery{Errors: []entity.AuthorityMessage{{Code: 602, Msg: "Sin Resultados"}}}, nil
}

func approved(inv *entity.Invoice, cae string) *entity.AuthorizationResult {
	processed := fixedNow
	exp := time.Date(2026, 10, 25, 0, 0, 0, 0, art)
	return &entity.AuthorizationResult{
		InvoiceID:     inv.ID,
		Approved:      true,
		CAE:           cae,
		ProcessDate:   &processed,
		CAEExpiration: &exp,
		PointOfSale:   inv.PointOfSale,
		Number:        inv.Number,
		Errors:        []entity.AuthorityMessage{},
		Observations:  []entity.AuthorityMessage{},
		Summary:       "Resultado=A CAE=" + cae,
	}
}

func rejected(inv *entity.Invoice, errs ...entity.AuthorityMessage) *entity.AuthorizationResult {
	return &entity.AuthorizationResult{
		InvoiceID:    inv.ID,
		Rejected:     true,
		PointOfSale:  inv.PointOfSale,
		Number:       inv.Number,
		Errors:       errs,
		Observations: []entity.AuthorityMessage{},
		Summary:      "Resultado=R",
	}
}

type countingRecorder struct {
	transitions []string
	runs        int
}

func (r *countingRecorder) Transition(op, state string) {
	r.transitions = append(r.transitions, op+":"+state)
}
func (r *countingRecorder) ResyncRun() { r.runs++ }

// ──────────────────────────────────────────────────────────────────────────────
// Datos de prueba
// ──────────────────────────────────────────────────────────────────────────────

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// facturaB devuelve una FB por 100 + 21 a consumidor final identificado con DNI.
func facturaB(id int64, number int64) *entity.Invoice {
	return &entity.Invoice{
		ID:                       id,
		DocType:                  "FB",
		PointOfSale:              3,
		Number:                   number,
		Date:                     fixedNow,
		Currency:                 "PES",
		ExchangeRate:             decimal.NewFromInt(1),
		NetTotal:                 money("100.00"),
		TaxTotal:                 money("21.00"),
		GrossTotal:               money("121.00"),
		CustomerID:               55,
		ReceiverDocType:          96,
		ReceiverDocNumber:        "30123456",
		ReceiverIVAConditionCode: "CF",
		StateID:                  states.Draft,
	}
}

func lineaServicio() *entity.InvoiceLine {
	return &entity.InvoiceLine{
		Description: "Servicio mensual",
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   money("100.00"),
		TaxRate:     decimal.NewFromInt(21),
		NetAmount:   money("100.00"),
		TaxAmount:   money("21.00"),
		GrossAmount: money("121.00"),
	}
}
