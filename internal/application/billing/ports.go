package billing

import (
	"context"

	"github.com/jhoicas/facturacion-afip/internal/domain/entity"
	"github.com/jhoicas/facturacion-afip/internal/domain/repository"
)

// TxRunner ejecuta fn dentro de una transacción con los repos atados a ella.
// Si fn devuelve error se hace rollback y ningún cambio queda persistido.
type TxRunner interface {
	RunInvoiceTx(ctx context.Context, fn func(
		invoices repository.InvoiceRepository,
		catalog repository.CatalogRepository,
	) error) error
}

// AuthProvider entrega tickets de acceso WSAA (implementado por afip.WSAAClient).
type AuthProvider interface {
	GetAuth(ctx context.Context, forceRenew bool) (*entity.AuthTicket, error)
}

// AuthorityClient operaciones WSFEv1 usadas por el orquestador (implementado por afip.WSFEClient).
type AuthorityClient interface {
	RequestCAE(ctx context.Context, ticket *entity.AuthTicket, inv *entity.Invoice) (*entity.AuthorizationResult, error)
	LastAuthorized(ctx context.Context, ticket *entity.AuthTicket, docType string, pointOfSale int) (*entity.LastAuthorized, error)
	Query(ctx context.Context, ticket *entity.AuthTicket, docType string, pointOfSale int, number int64) (*entity.CAEQuery, error)
}

// Recorder registra transiciones y corridas de resincronización (métricas).
type Recorder interface {
	Transition(op, state string)
	ResyncRun()
}

type nopRecorder struct{}

func (nopRecorder) Transition(string, string) {}
func (nopRecorder) ResyncRun()                {}
