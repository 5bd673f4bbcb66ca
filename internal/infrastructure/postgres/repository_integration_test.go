package postgres_test

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturacion-afip/internal/domain"
	"github.com/jhoicas/facturacion-afip/internal/domain/entity"
	"github.com/jhoicas/facturacion-afip/internal/domain/repository"
	"github.com/jhoicas/facturacion-afip/internal/infrastructure/postgres"
	"github.com/jhoicas/facturacion-afip/pkg/config"
)

// Las pruebas de integración corren solo con FACTURACION_TEST_DATABASE_URL definido.

func openTestSchema(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("FACTURACION_TEST_DATABASE_URL"))
	if raw == "" {
		t.Skip("integración omitida: FACTURACION_TEST_DATABASE_URL no definido")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	admin, err := pgxpool.New(ctx, raw)
	require.NoError(t, err)
	schema := "afip_it_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	_, err = admin.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize())
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
		admin.Close()
	})

	u, err := url.Parse(raw)
	require.NoError(t, err)
	qs := u.Query()
	qs.Set("search_path", schema)
	u.RawQuery = qs.Encode()

	pool, err := postgres.NewPool(ctx, config.DBConfig{DatabaseURL: u.String()}, postgres.PoolOptions{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.Migrate(ctx, pool))
	require.NoError(t, postgres.Migrate(ctx, pool), "la migración es idempotente")

	_, err = pool.Exec(ctx, `INSERT INTO points_of_sale (number, enabled) VALUES (3, TRUE)`)
	require.NoError(t, err)
	return pool
}

func draftInvoice(number int64) *entity.Invoice {
	return &entity.Invoice{
		DocType:                "FB",
		PointOfSale:            3,
		Number:                 number,
		Date:                   time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC),
		Currency:               "PES",
		NetTotal:               decimal.RequireFromString("100.00"),
		TaxTotal:               decimal.RequireFromString("21.00"),
		GrossTotal:             decimal.RequireFromString("121.00"),
		ReceiverDocType:        96,
		ReceiverDocNumber:      "30123456",
		ReceiverIVAConditionID: 5,
		StateID:                1,
	}
}

func TestInvoiceRepo_CicloCompleto(t *testing.T) {
	pool := openTestSchema(t)
	ctx := context.Background()
	runner := postgres.NewTxRunner(pool)

	var id int64
	err := runner.RunInvoiceTx(ctx, func(invoices repository.InvoiceRepository, _ repository.CatalogRepository) error {
		inv := draftInvoice(42)
		if err := invoices.Create(ctx, inv); err != nil {
			return err
		}
		id = inv.ID
		return invoices.CreateLine(ctx, &entity.InvoiceLine{
			InvoiceID:   inv.ID,
			Description: "Servicio",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.RequireFromString("100"),
			TaxRate:     decimal.NewFromInt(21),
			NetAmount:   decimal.RequireFromString("100.00"),
			TaxAmount:   decimal.RequireFromString("21.00"),
			GrossAmount: decimal.RequireFromString("121.00"),
		})
	})
	require.NoError(t, err)

	repo := postgres.NewInvoiceRepository(pool)
	lines, err := repo.GetLines(ctx, id)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].GrossAmount.Equal(decimal.RequireFromString("121")))

	require.NoError(t, repo.ApplyTransition(ctx, id, repository.Transition{StateID: 4, AppendNote: "AFIP rechazado: 10015 - DocNro no válido"}))
	require.NoError(t, repo.ApplyTransition(ctx, id, repository.Transition{StateID: 4, AppendNote: "AFIP rechazado: 10016 - otro"}))

	exp := time.Date(2026, 10, 25, 0, 0, 0, 0, time.UTC)
	issued := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.ApplyTransition(ctx, id, repository.Transition{
		StateID: 3, CAE: "71234567890123", CAEIssueDate: &issued, CAEExpiration: &exp,
	}))

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.StateID)
	assert.Equal(t, "71234567890123", got.CAE)
	assert.Equal(t, "AFIP rechazado: 10015 - DocNro no válido\nAFIP rechazado: 10016 - otro", got.Notes)
	require.NotNil(t, got.CAEExpiration)

	next, err := repo.NextNumber(ctx, "FB", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(43), next)
	next, err = repo.NextNumber(ctx, "FB", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(44), next, "cada llamada reserva un número nuevo")

	lastAuth, err := repo.MaxAuthorizedNumber(ctx, "FB", 3, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(42), lastAuth)

	missing, err := repo.GetByID(ctx, id+1000)
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = repo.Renumber(ctx, id+1000, 1)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestInvoiceRepo_NoTerminalesPuedenCompartirNumero(t *testing.T) {
	pool := openTestSchema(t)
	ctx := context.Background()
	repo := postgres.NewInvoiceRepository(pool)

	a, b := draftInvoice(52), draftInvoice(52)
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	list, err := repo.ListByStates(ctx, []int{1, 7})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID, "a igual número ordena por id")

	exp := time.Date(2026, 10, 25, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.ApplyTransition(ctx, a.ID, repository.Transition{StateID: 3, CAE: "1", CAEExpiration: &exp}))
	err = repo.ApplyTransition(ctx, b.ID, repository.Transition{StateID: 3, CAE: "2", CAEExpiration: &exp})
	assert.True(t, errors.Is(err, domain.ErrConflict), "dos CAE sobre el mismo número")
}

func TestInvoiceRepo_NextNumberConcurrenteNoRepite(t *testing.T) {
	pool := openTestSchema(t)
	ctx := context.Background()
	runner := postgres.NewTxRunner(pool)
	require.NoError(t, postgres.NewInvoiceRepository(pool).Create(ctx, draftInvoice(10)))

	const workers = 8
	numbers := make(chan int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := runner.RunInvoiceTx(ctx, func(invoices repository.InvoiceRepository, _ repository.CatalogRepository) error {
				n, err := invoices.NextNumber(ctx, "NCB", 3)
				if err != nil {
					return err
				}
				nc := draftInvoice(n)
				nc.DocType = "NCB"
				if err := invoices.Create(ctx, nc); err != nil {
					return err
				}
				numbers <- n
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[int64]bool{}
	for n := range numbers {
		assert.False(t, seen[n], "número %d repetido", n)
		seen[n] = true
	}
	for n := int64(1); n <= workers; n++ {
		assert.True(t, seen[n], "falta el número %d", n)
	}
}

func TestInvoiceRepo_NotaAsociadaYFacturaEmitida(t *testing.T) {
	pool := openTestSchema(t)
	ctx := context.Background()
	repo := postgres.NewInvoiceRepository(pool)
	runner := postgres.NewTxRunner(pool)

	fb := draftInvoice(42)
	require.NoError(t, repo.Create(ctx, fb))
	exp := time.Date(2026, 10, 25, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.ApplyTransition(ctx, fb.ID, repository.Transition{StateID: 3, CAE: "71234567890123", CAEExpiration: &exp}))
	require.NoError(t, repo.Create(ctx, draftInvoice(42)), "borrador sin CAE en el mismo número")

	nc := draftInvoice(1)
	nc.DocType, nc.AssocDocType, nc.AssocPointOfSale, nc.AssocNumber = "NCB", "FB", 3, 42
	require.NoError(t, repo.Create(ctx, nc))

	notes, err := repo.ListByAssociation(ctx, "FB", 3, 42)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, nc.ID, notes[0].ID)

	err = runner.RunInvoiceTx(ctx, func(invoices repository.InvoiceRepository, _ repository.CatalogRepository) error {
		issued, err := invoices.LockIssued(ctx, "FB", 3, 42)
		require.NoError(t, err)
		require.NotNil(t, issued)
		assert.Equal(t, fb.ID, issued.ID, "solo el comprobante con CAE")

		none, err := invoices.LockIssued(ctx, "FB", 3, 43)
		require.NoError(t, err)
		assert.Nil(t, none)
		return nil
	})
	require.NoError(t, err)
}

func TestCatalogRepo(t *testing.T) {
	pool := openTestSchema(t)
	ctx := context.Background()
	cat := postgres.NewCatalogRepository(pool)

	states, err := cat.ListInvoiceStates(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 7)

	cf, err := cat.GetIVAConditionByCode(ctx, " cf ")
	require.NoError(t, err)
	require.NotNil(t, cf)
	assert.Equal(t, 5, cf.ID)

	none, err := cat.GetIVAConditionByCode(ctx, "XX")
	require.NoError(t, err)
	assert.Nil(t, none)

	pos, err := cat.GetPointOfSale(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.True(t, pos.Enabled)
}
