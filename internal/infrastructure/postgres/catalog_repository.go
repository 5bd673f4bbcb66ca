package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"github.com/jhoicas/facturacion-afip/internal/domain/entity"
	"github.com/jhoicas/facturacion-afip/internal/domain/repository"
)

var _ repository.CatalogRepository = (*CatalogRepo)(nil)

// CatalogRepo lee los catálogos de soporte: estados, condiciones IVA y puntos de venta.
type CatalogRepo struct {
	q Querier
}

// NewCatalogRepository construye el adaptador. Pasar pool o tx (Querier).
func NewCatalogRepository(q Querier) *CatalogRepo {
	return &CatalogRepo{q: q}
}

func (r *CatalogRepo) ListInvoiceStates(ctx context.Context) ([]entity.InvoiceStateRow, error) {
	sql, args, err := psql.Select("id", "name").From("invoice_states").OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var rows []entity.InvoiceStateRow
	if err := pgxscan.Select(ctx, r.q, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("list invoice states: %w", err)
	}
	return rows, nil
}

func (r *CatalogRepo) GetIVAConditionByCode(ctx context.Context, code string) (*entity.IVACondition, error) {
	sql, args, err := psql.Select("id", "code", "description").
		From("afip_iva_conditions").
		Where(squirrel.Eq{"upper(code)": strings.ToUpper(strings.TrimSpace(code))}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var c entity.IVACondition
	if err := pgxscan.Get(ctx, r.q, &c, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get iva condition: %w", err)
	}
	return &c, nil
}

func (r *CatalogRepo) GetPointOfSale(ctx context.Context, number int) (*entity.PointOfSale, error) {
	sql, args, err := psql.Select("number", "enabled", "description").
		From("points_of_sale").
		Where(squirrel.Eq{"number": number}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var p entity.PointOfSale
	if err := pgxscan.Get(ctx, r.q, &p, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get point of sale: %w", err)
	}
	return &p, nil
}
