package repository

import (
	"context"

	"github.com/jhoicas/facturacion-afip/internal/domain/entity"
)

// CatalogRepository puerto de lectura de tablas de referencia.
type CatalogRepository interface {
	ListInvoiceStates(ctx context.Context) ([]entity.InvoiceStateRow, error)
	// GetIVAConditionByCode devuelve (nil, nil) si el código no existe.
	GetIVAConditionByCode(ctx context.Context, code string) (*entity.IVACondition, error)
	// GetPointOfSale devuelve (nil, nil) si el punto de venta no está catalogado.
	GetPointOfSale(ctx context.Context, number int) (*entity.PointOfSale, error)
}
