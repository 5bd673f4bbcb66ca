package http

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/facturacion-afip/internal/application/dto"
	"github.com/jhoicas/facturacion-afip/internal/domain"
	"github.com/jhoicas/facturacion-afip/internal/domain/entity"
)

// authorizationService contrato que el handler necesita del orquestador.
// Lo implementa *billing.AuthorizationOrchestrator.
type authorizationService interface {
	Authorize(ctx context.Context, invoiceID int64) (*entity.AuthorizationResult, error)
	EmitCreditNote(ctx context.Context, originalID int64) (*entity.CreditNoteResult, error)
	ResyncPending(ctx context.Context) (*entity.ResyncSummary, error)
	Verify(ctx context.Context, invoiceID int64) (*entity.VerifyResult, error)
	LastAuthorized(ctx context.Context, docType string, pointOfSale int) (*entity.LastAuthorized, error)
	States() entity.StateSet
}

// InvoiceHandler expone las operaciones de autorización fiscal (protegido).
type InvoiceHandler struct {
	svc authorizationService
}

// NewInvoiceHandler construye el handler.
func NewInvoiceHandler(svc authorizationService) *InvoiceHandler {
	return &InvoiceHandler{svc: svc}
}

// Authorize solicita el CAE del comprobante.
// POST /api/invoices/:id/authorize
func (h *InvoiceHandler) Authorize(c *fiber.Ctx) error {
	id, ok := invoiceID(c)
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "VALIDATION", "id de comprobante inválido")
	}
	res, err := h.svc.Authorize(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.AuthorizationResponse{
		AuthorizationResult: res,
		State:               h.svc.States().Name(res.NewStateID),
	})
}

// CreditNote emite la NC que anula una factura autorizada.
// POST /api/invoices/:id/credit-note
func (h *InvoiceHandler) CreditNote(c *fiber.Ctx) error {
	id, ok := invoiceID(c)
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "VALIDATION", "id de comprobante inválido")
	}
	res, err := h.svc.EmitCreditNote(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.CreditNoteResponse{
		CreditNoteResult: res,
		State:            h.svc.States().Name(res.NewStateID),
	})
}

// Verify compara el comprobante local con lo registrado por la autoridad.
// GET /api/invoices/:id/afip
func (h *InvoiceHandler) Verify(c *fiber.Ctx) error {
	id, ok := invoiceID(c)
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "VALIDATION", "id de comprobante inválido")
	}
	res, err := h.svc.Verify(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

// Resync reintenta los comprobantes pendientes.
// POST /api/invoices/resync
func (h *InvoiceHandler) Resync(c *fiber.Ctx) error {
	sum, err := h.svc.ResyncPending(c.UserContext())
	if err != nil {
		// Las transiciones ya confirmadas se informan junto con el error.
		status, code := errorStatus(err)
		return c.Status(status).JSON(dto.ResyncErrorResponse{
			ErrorResponse: dto.ErrorResponse{Code: code, Message: err.Error(), RequestID: GetRequestID(c)},
			Summary:       sum,
		})
	}
	return c.JSON(dto.ResyncResponse{ResyncSummary: sum})
}

// LastAuthorized consulta el último número autorizado de un numerador.
// GET /api/afip/last-authorized?doc_type=FB&pos=3
func (h *InvoiceHandler) LastAuthorized(c *fiber.Ctx) error {
	var q dto.LastAuthorizedQuery
	if err := c.QueryParser(&q); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "VALIDATION", "doc_type y pos requeridos")
	}
	q.DocType = strings.ToUpper(strings.TrimSpace(q.DocType))
	if q.DocType == "" || q.PointOfSale <= 0 {
		return errorJSON(c, fiber.StatusBadRequest, "VALIDATION", "doc_type y pos requeridos")
	}
	la, err := h.svc.LastAuthorized(c.UserContext(), q.DocType, q.PointOfSale)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.LastAuthorizedResponse{
		DocType:     q.DocType,
		PointOfSale: q.PointOfSale,
		LastNumber:  la.LastNumber,
		NextNumber:  la.LastNumber + 1,
	})
}

func invoiceID(c *fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	return id, err == nil && id > 0
}

// writeError traduce los errores de dominio a respuestas HTTP.
func writeError(c *fiber.Ctx, err error) error {
	status, code := errorStatus(err)
	return errorJSON(c, status, code, err.Error())
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrInvalidState):
		return fiber.StatusConflict, "INVALID_STATE"
	case errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrConfiguration):
		return fiber.StatusUnprocessableEntity, "CONFIGURATION"
	case errors.Is(err, domain.ErrInvalidInput):
		return fiber.StatusUnprocessableEntity, "VALIDATION"
	case errors.Is(err, domain.ErrAuthUnavailable):
		return fiber.StatusServiceUnavailable, "WSAA_UNAVAILABLE"
	case errors.Is(err, domain.ErrUnauthorized):
		return fiber.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrForbidden):
		return fiber.StatusForbidden, "FORBIDDEN"
	}
	return fiber.StatusInternalServerError, "INTERNAL"
}

// errorJSON escribe el cuerpo de error con el id de la petición.
func errorJSON(c *fiber.Ctx, status int, code, msg string) error {
	return c.Status(status).JSON(dto.ErrorResponse{Code: code, Message: msg, RequestID: GetRequestID(c)})
}
