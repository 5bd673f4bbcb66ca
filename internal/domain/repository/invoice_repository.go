package repository

import (
	"context"
	"time"

	"github.com/jhoicas/facturacion-afip/internal/domain/entity"
)

// Transition cambio de estado durable de un comprobante: estado, campos CAE y anotación
// se escriben en una sola sentencia. CAE vacío y fechas nil no modifican los valores guardados.
type Transition struct {
	StateID       int
	CAE           string
	CAEIssueDate  *time.Time
	CAEExpiration *time.Time
	AppendNote    string // se agrega a notes con un único salto de línea
}

// InvoiceRepository puerto de persistencia de comprobantes y sus líneas.
// GetByID y LockByID devuelven (nil, nil) si el comprobante no existe.
type InvoiceRepository interface {
	GetByID(ctx context.Context, id int64) (*entity.Invoice, error)
	// LockByID lee la cabecera con bloqueo de fila (SELECT ... FOR UPDATE) hasta el fin de la transacción.
	LockByID(ctx context.Context, id int64) (*entity.Invoice, error)
	GetLines(ctx context.Context, invoiceID int64) ([]*entity.InvoiceLine, error)
	Create(ctx context.Context, invoice *entity.Invoice) error
	CreateLine(ctx context.Context, line *entity.InvoiceLine) error
	ApplyTransition(ctx context.Context, id int64, t Transition) error
	// Renumber reasigna el número local (resincronización contra el numerador de la autoridad).
	Renumber(ctx context.Context, id int64, number int64) error
	// NextNumber reserva el siguiente número local de (docType, pointOfSale). Dos llamadas
	// concurrentes nunca reciben el mismo número.
	NextNumber(ctx context.Context, docType string, pointOfSale int) (int64, error)
	// MaxAuthorizedNumber devuelve el mayor número con estado autorizado (0 si no hay).
	MaxAuthorizedNumber(ctx context.Context, docType string, pointOfSale int, authorizedStateID int) (int64, error)
	// SlotTaken indica si otro comprobante ya tiene CAE para (docType, pointOfSale, number).
	SlotTaken(ctx context.Context, docType string, pointOfSale int, number int64) (bool, error)
	// LockIssued bloquea el comprobante con CAE que ocupa (docType, pointOfSale, number).
	// Devuelve (nil, nil) si no hay ninguno.
	LockIssued(ctx context.Context, docType string, pointOfSale int, number int64) (*entity.Invoice, error)
	// ListByAssociation lista los comprobantes cuya referencia asociada es (docType, pointOfSale, number), por id.
	ListByAssociation(ctx context.Context, docType string, pointOfSale int, number int64) ([]*entity.Invoice, error)
	// ListByStates ordena por (doc_type, point_of_sale, number, id).
	ListByStates(ctx context.Context, stateIDs []int) ([]*entity.Invoice, error)
}
