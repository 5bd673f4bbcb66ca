package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jhoicas/facturacion-afip/internal/application/billing"
	"github.com/jhoicas/facturacion-afip/internal/domain/repository"
)

var tracer = otel.Tracer("facturacion-afip/postgres")

var _ billing.TxRunner = (*TxRunner)(nil)

// StatementTimeout acota cada sentencia dentro de la transacción.
const StatementTimeout = 15 * time.Second

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInvoiceTx inicia una transacción READ COMMITTED, ejecuta fn con repos atados a la tx
// y hace Commit o Rollback. Los bloqueos tomados con LockByID se liberan al terminar.
func (r *TxRunner) RunInvoiceTx(ctx context.Context, fn func(
	invoices repository.InvoiceRepository,
	catalog repository.CatalogRepository,
) error) (err error) {
	ctx, span := tracer.Start(ctx, "invoice_tx",
		trace.WithAttributes(attribute.String("tx.isolation", string(pgx.ReadCommitted))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Rollback con contexto propio: debe completarse aunque ctx se haya cancelado.
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", StatementTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set statement_timeout: %w", err)
	}

	if err := fn(NewInvoiceRepository(tx), NewCatalogRepository(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
