package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/facturacion-afip/internal/domain"
	"github.com/jhoicas/facturacion-afip/internal/domain/entity"
	"github.com/jhoicas/facturacion-afip/internal/domain/repository"
)

var _ repository.InvoiceRepository = (*InvoiceRepo)(nil)

const (
	invoicesTable     = "invoices"
	invoiceLinesTable = "invoice_lines"
)

var invoiceColumns = []string{
	"id", "doc_type", "point_of_sale", "number", "issue_date", "currency", "exchange_rate",
	"net_total", "tax_total", "gross_total", "customer_id",
	"receiver_doc_type", "receiver_doc_number", "receiver_iva_condition_id", "receiver_iva_condition_code",
	"assoc_doc_type", "assoc_point_of_sale", "assoc_number",
	"state_id", "cae", "cae_issue_date", "cae_expiration", "notes", "created_at", "updated_at",
}

var lineColumns = []string{
	"id", "invoice_id", "description", "quantity", "unit_price", "tax_rate",
	"net_amount", "tax_amount", "gross_amount",
}

// invoiceRow refleja la fila de invoices con sus columnas anulables.
type invoiceRow struct {
	ID                       int64           `db:"id"`
	DocType                  string          `db:"doc_type"`
	PointOfSale              int             `db:"point_of_sale"`
	Number                   int64           `db:"number"`
	IssueDate                time.Time       `db:"issue_date"`
	Currency                 string          `db:"currency"`
	ExchangeRate             decimal.Decimal `db:"exchange_rate"`
	NetTotal                 decimal.Decimal `db:"net_total"`
	TaxTotal                 decimal.Decimal `db:"tax_total"`
	GrossTotal               decimal.Decimal `db:"gross_total"`
	CustomerID               *int64          `db:"customer_id"`
	ReceiverDocType          int             `db:"receiver_doc_type"`
	ReceiverDocNumber        string          `db:"receiver_doc_number"`
	ReceiverIVAConditionID   *int            `db:"receiver_iva_condition_id"`
	ReceiverIVAConditionCode *string         `db:"receiver_iva_condition_code"`
	AssocDocType             *string         `db:"assoc_doc_type"`
	AssocPointOfSale         *int            `db:"assoc_point_of_sale"`
	AssocNumber              *int64          `db:"assoc_number"`
	StateID                  int             `db:"state_id"`
	CAE                      *string         `db:"cae"`
	CAEIssueDate             *time.Time      `db:"cae_issue_date"`
	CAEExpiration            *time.Time      `db:"cae_expiration"`
	Notes                    string          `db:"notes"`
	CreatedAt                time.Time       `db:"created_at"`
	UpdatedAt                time.Time       `db:"updated_at"`
}

func (r *invoiceRow) toEntity() *entity.Invoice {
	return &entity.Invoice{
		ID:                       r.ID,
		DocType:                  r.DocType,
		PointOfSale:              r.PointOfSale,
		Number:                   r.Number,
		Date:                     r.IssueDate,
		Currency:                 r.Currency,
		ExchangeRate:             r.ExchangeRate,
		NetTotal:                 r.NetTotal,
		TaxTotal:                 r.TaxTotal,
		GrossTotal:               r.GrossTotal,
		CustomerID:               deref(r.CustomerID),
		ReceiverDocType:          r.ReceiverDocType,
		ReceiverDocNumber:        r.ReceiverDocNumber,
		ReceiverIVAConditionID:   deref(r.ReceiverIVAConditionID),
		ReceiverIVAConditionCode: deref(r.ReceiverIVAConditionCode),
		AssocDocType:             deref(r.AssocDocType),
		AssocPointOfSale:         deref(r.AssocPointOfSale),
		AssocNumber:              deref(r.AssocNumber),
		StateID:                  r.StateID,
		CAE:                      deref(r.CAE),
		CAEIssueDate:             r.CAEIssueDate,
		CAEExpiration:            r.CAEExpiration,
		Notes:                    r.Notes,
		CreatedAt:                r.CreatedAt,
		UpdatedAt:                r.UpdatedAt,
	}
}

// InvoiceRepo implementación de InvoiceRepository (usable con pool o tx).
type InvoiceRepo struct {
	q Querier
}

// NewInvoiceRepository construye el adaptador. Pasar pool o tx (Querier).
func NewInvoiceRepository(q Querier) *InvoiceRepo {
	return &InvoiceRepo{q: q}
}

func selectInvoices() squirrel.SelectBuilder {
	return psql.Select(invoiceColumns...).From(invoicesTable)
}

func (r *InvoiceRepo) getOne(ctx context.Context, b squirrel.SelectBuilder) (*entity.Invoice, error) {
	sql, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var row invoiceRow
	if err := pgxscan.Get(ctx, r.q, &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return row.toEntity(), nil
}

// GetByID obtiene la cabecera sin bloqueo.
func (r *InvoiceRepo) GetByID(ctx context.Context, id int64) (*entity.Invoice, error) {
	return r.getOne(ctx, selectInvoices().Where(squirrel.Eq{"id": id}))
}

// LockByID obtiene la cabecera con SELECT ... FOR UPDATE.
func (r *InvoiceRepo) LockByID(ctx context.Context, id int64) (*entity.Invoice, error) {
	return r.getOne(ctx, lockInvoiceQuery(id))
}

func lockInvoiceQuery(id int64) squirrel.SelectBuilder {
	return selectInvoices().Where(squirrel.Eq{"id": id}).Suffix("FOR UPDATE")
}

// LockIssued bloquea el comprobante con CAE del número. El índice parcial ux_invoices_cae_slot
// garantiza que haya a lo sumo uno.
func (r *InvoiceRepo) LockIssued(ctx context.Context, docType string, pointOfSale int, number int64) (*entity.Invoice, error) {
	return r.getOne(ctx, lockIssuedQuery(docType, pointOfSale, number))
}

func lockIssuedQuery(docType string, pointOfSale int, number int64) squirrel.SelectBuilder {
	return selectInvoices().
		Where(squirrel.Eq{"doc_type": docType, "point_of_sale": pointOfSale, "number": number}).
		Where(squirrel.NotEq{"cae": nil}).
		Suffix("FOR UPDATE")
}

// ListByAssociation devuelve las notas que referencian el comprobante (docType, pointOfSale, number).
func (r *InvoiceRepo) ListByAssociation(ctx context.Context, docType string, pointOfSale int, number int64) ([]*entity.Invoice, error) {
	sql, args, err := byAssociationQuery(docType, pointOfSale, number).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var rows []*invoiceRow
	if err := pgxscan.Select(ctx, r.q, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("list invoices by association: %w", err)
	}
	out := make([]*entity.Invoice, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

func byAssociationQuery(docType string, pointOfSale int, number int64) squirrel.SelectBuilder {
	return selectInvoices().
		Where(squirrel.Eq{"assoc_doc_type": docType, "assoc_point_of_sale": pointOfSale, "assoc_number": number}).
		OrderBy("id")
}

// GetLines devuelve las líneas ordenadas por id.
func (r *InvoiceRepo) GetLines(ctx context.Context, invoiceID int64) ([]*entity.InvoiceLine, error) {
	sql, args, err := psql.Select(lineColumns...).
		From(invoiceLinesTable).
		Where(squirrel.Eq{"invoice_id": invoiceID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var lines []*entity.InvoiceLine
	if err := pgxscan.Select(ctx, r.q, &lines, sql, args...); err != nil {
		return nil, fmt.Errorf("get invoice lines: %w", err)
	}
	return lines, nil
}

// Create persiste la cabecera y completa ID, CreatedAt y UpdatedAt.
func (r *InvoiceRepo) Create(ctx context.Context, inv *entity.Invoice) error {
	query := `
		INSERT INTO invoices (doc_type, point_of_sale, number, issue_date, currency, exchange_rate,
		                      net_total, tax_total, gross_total, customer_id,
		                      receiver_doc_type, receiver_doc_number, receiver_iva_condition_id, receiver_iva_condition_code,
		                      assoc_doc_type, assoc_point_of_sale, assoc_number,
		                      state_id, cae, cae_issue_date, cae_expiration, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		RETURNING id, created_at, updated_at`
	rate := inv.ExchangeRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}
	err := r.q.QueryRow(ctx, query,
		inv.DocType, inv.PointOfSale, inv.Number, inv.Date, inv.Currency, rate,
		inv.NetTotal, inv.TaxTotal, inv.GrossTotal, nullIfZero(inv.CustomerID),
		inv.ReceiverDocType, inv.ReceiverDocNumber, nullIfZero(inv.ReceiverIVAConditionID), nullIfEmpty(inv.ReceiverIVAConditionCode),
		nullIfEmpty(inv.AssocDocType), nullIfZero(inv.AssocPointOfSale), nullIfZero(inv.AssocNumber),
		inv.StateID, nullIfEmpty(inv.CAE), inv.CAEIssueDate, inv.CAEExpiration, inv.Notes,
	).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: comprobante %s %d-%d ya autorizado", domain.ErrConflict, inv.DocType, inv.PointOfSale, inv.Number)
		}
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

// CreateLine persiste una línea de detalle.
func (r *InvoiceRepo) CreateLine(ctx context.Context, l *entity.InvoiceLine) error {
	query := `
		INSERT INTO invoice_lines (invoice_id, description, quantity, unit_price, tax_rate, net_amount, tax_amount, gross_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	err := r.q.QueryRow(ctx, query,
		l.InvoiceID, l.Description, l.Quantity, l.UnitPrice, l.TaxRate, l.NetAmount, l.TaxAmount, l.GrossAmount,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("insert invoice line: %w", err)
	}
	return nil
}

// ApplyTransition escribe estado, campos CAE y anotación en una sola sentencia.
// La anotación se agrega con un único salto de línea conservando el contenido previo.
func (r *InvoiceRepo) ApplyTransition(ctx context.Context, id int64, t repository.Transition) error {
	query := `
		UPDATE invoices
		SET state_id       = $2,
		    cae            = COALESCE($3, cae),
		    cae_issue_date = COALESCE($4, cae_issue_date),
		    cae_expiration = COALESCE($5, cae_expiration),
		    notes          = CASE
		                       WHEN $6::text = '' THEN notes
		                       WHEN btrim(notes) = '' THEN $6::text
		                       ELSE rtrim(notes, E'\n') || E'\n' || $6::text
		                     END,
		    updated_at     = now()
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, query, id, t.StateID, nullIfEmpty(t.CAE), t.CAEIssueDate, t.CAEExpiration, t.AppendNote)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: número ya autorizado para otro comprobante", domain.ErrConflict)
		}
		return fmt.Errorf("update invoice state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Renumber reasigna el número local.
func (r *InvoiceRepo) Renumber(ctx context.Context, id int64, number int64) error {
	tag, err := r.q.Exec(ctx, `UPDATE invoices SET number = $2, updated_at = now() WHERE id = $1`, id, number)
	if err != nil {
		return fmt.Errorf("renumber invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// NextNumber reserva el número con un upsert sobre invoice_numerators: el ON CONFLICT bloquea
// la fila del numerador hasta el fin de la transacción, así que dos reservas concurrentes se
// serializan. El valor inicial (y el piso de cada reserva) es max(number)+1 de invoices.
func (r *InvoiceRepo) NextNumber(ctx context.Context, docType string, pointOfSale int) (int64, error) {
	var next int64
	if err := r.q.QueryRow(ctx, nextNumberSQL, docType, pointOfSale).Scan(&next); err != nil {
		return 0, fmt.Errorf("next invoice number: %w", err)
	}
	return next, nil
}

const nextNumberSQL = `
	INSERT INTO invoice_numerators (doc_type, point_of_sale, last_number)
	SELECT $1::text, $2::int, COALESCE(MAX(number), 0) + 1
	FROM invoices
	WHERE doc_type = $1::text AND point_of_sale = $2::int
	ON CONFLICT (doc_type, point_of_sale) DO UPDATE
	SET last_number = GREATEST(invoice_numerators.last_number + 1, EXCLUDED.last_number),
	    updated_at  = now()
	RETURNING last_number`

// MaxAuthorizedNumber devuelve el mayor número autorizado localmente (0 si no hay).
func (r *InvoiceRepo) MaxAuthorizedNumber(ctx context.Context, docType string, pointOfSale int, authorizedStateID int) (int64, error) {
	var max int64
	err := r.q.QueryRow(ctx,
		`SELECT COALESCE(MAX(number), 0) FROM invoices WHERE doc_type = $1 AND point_of_sale = $2 AND state_id = $3`,
		docType, pointOfSale, authorizedStateID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max authorized number: %w", err)
	}
	return max, nil
}

// SlotTaken indica si algún comprobante con CAE ocupa (docType, pointOfSale, number).
func (r *InvoiceRepo) SlotTaken(ctx context.Context, docType string, pointOfSale int, number int64) (bool, error) {
	var taken bool
	err := r.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM invoices WHERE doc_type = $1 AND point_of_sale = $2 AND number = $3 AND cae IS NOT NULL)`,
		docType, pointOfSale, number,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("slot taken: %w", err)
	}
	return taken, nil
}

// ListByStates lista los comprobantes en los estados dados, ordenados por (tipo, punto de venta, número).
func (r *InvoiceRepo) ListByStates(ctx context.Context, stateIDs []int) ([]*entity.Invoice, error) {
	if len(stateIDs) == 0 {
		return nil, nil
	}
	sql, args, err := listByStatesQuery(stateIDs).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var rows []*invoiceRow
	if err := pgxscan.Select(ctx, r.q, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("list invoices by state: %w", err)
	}
	out := make([]*entity.Invoice, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

func listByStatesQuery(stateIDs []int) squirrel.SelectBuilder {
	return selectInvoices().
		Where(squirrel.Eq{"state_id": stateIDs}).
		OrderBy("doc_type", "point_of_sale", "number", "id")
}
