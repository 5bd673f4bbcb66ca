package afip

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jhoicas/facturacion-afip/internal/domain"
	"github.com/jhoicas/facturacion-afip/internal/domain/entity"
	pkgafip "github.com/jhoicas/facturacion-afip/pkg/afip"
	"github.com/jhoicas/facturacion-afip/pkg/logger"
)

// WSFEConfig parámetros del cliente WSFEv1.
type WSFEConfig struct {
	Endpoint string
	CUIT     string
	Location *time.Location // zona para interpretar fechas AAAAMMDD
	Timeout  time.Duration

	HTTPClient *http.Client
	Now        func() time.Time
	Logger     *logger.Logger
	Observer   Observer
}

// WSFEClient implementa FECAESolicitar, FECompUltimoAutorizado y FECompConsultar.
// No guarda estado: cada operación recibe un ticket vigente.
type WSFEClient struct {
	cfg  WSFEConfig
	http *http.Client
	now  func() time.Time
	log  *logger.Logger
	obs  Observer
}

// NewWSFEClient construye el cliente.
func NewWSFEClient(cfg WSFEConfig) *WSFEClient {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	c := &WSFEClient{
		cfg:  cfg,
		http: cfg.HTTPClient,
		now:  cfg.Now,
		log:  logger.OrNop(cfg.Logger).Component("wsfe"),
		obs:  observerOrNop(cfg.Observer),
	}
	if c.http == nil {
		c.http = NewHTTPClient(cfg.Timeout)
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// RequestCAE solicita el CAE de un comprobante.
//
// Devuelve error solo cuando no se llegó a una respuesta de la autoridad: configuración
// (domain.ErrConfiguration / ErrInvalidInput, sin tráfico de red) o transporte (*TransportError).
// Rechazos, observaciones y respuestas ilegibles viajan en el AuthorizationResult.
func (c *WSFEClient) RequestCAE(ctx context.Context, ticket *entity.AuthTicket, inv *entity.Invoice) (*entity.AuthorizationResult, error) {
	if ticket == nil {
		return nil, fmt.Errorf("%w: sin ticket de acceso", domain.ErrAuthUnavailable)
	}
	payload, err := BuildFECAESolicitar(AuthFromTicket(ticket, c.cfg.CUIT), inv, c.now().In(c.cfg.Location))
	if err != nil {
		return nil, err
	}
	cbteTipo, _ := pkgafip.CbteTipo(inv.DocType)

	ctx, span := tracer.Start(ctx, "wsfe.FECAESolicitar", trace.WithAttributes(
		attribute.Int64("invoice.id", inv.ID),
		attribute.Int("afip.cbte_tipo", cbteTipo),
		attribute.Int("afip.pto_vta", inv.PointOfSale),
		attribute.Int64("afip.numero", inv.Number),
	))
	defer span.End()

	raw, err := c.call(ctx, "FECAESolicitar", payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res := parseFECAEResponse(raw, c.cfg.Location)
	res.InvoiceID = inv.ID
	res.CbteTipo = cbteTipo
	res.PointOfSale = inv.PointOfSale
	res.Number = inv.Number

	outcome := OutcomeError
	switch {
	case res.Approved:
		outcome = OutcomeApproved
	case res.Rejected:
		outcome = OutcomeRejected
	}
	c.obs.CAEResult(outcome)
	span.SetAttributes(attribute.String("afip.resultado", outcome))

	c.log.Info().
		Int64("invoice_id", inv.ID).
		Int("cbte_tipo", cbteTipo).
		Int("pto_vta", inv.PointOfSale).
		Int64("numero", inv.Number).
		Str("resultado", outcome).
		Str("cae", res.CAE).
		Int("errores", len(res.Errors)).
		Int("observaciones", len(res.Observations)).
		Msg("FECAESolicitar")
	return res, nil
}

// LastAuthorized consulta el último número autorizado para (tipo, punto de venta).
func (c *WSFEClient) LastAuthorized(ctx context.Context, ticket *entity.AuthTicket, docType string, pointOfSale int) (*entity.LastAuthorized, error) {
	cbteTipo, ok := pkgafip.CbteTipo(docType)
	if !ok {
		return nil, fmt.Errorf("%w: tipo de comprobante %q sin código AFIP", domain.ErrConfiguration, docType)
	}
	if ticket == nil {
		return nil, fmt.Errorf("%w: sin ticket de acceso", domain.ErrAuthUnavailable)
	}
	payload, err := BuildFECompUltimoAutorizado(AuthFromTicket(ticket, c.cfg.CUIT), cbteTipo, pointOfSale)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "wsfe.FECompUltimoAutorizado", trace.WithAttributes(
		attribute.Int("afip.cbte_tipo", cbteTipo),
		attribute.Int("afip.pto_vta", pointOfSale),
	))
	defer span.End()

	raw, err := c.call(ctx, "FECompUltimoAutorizado", payload)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	out, err := parseLastAuthorizedResponse(raw)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if out.CbteTipo == 0 {
		out.CbteTipo = cbteTipo
	}
	if out.PointOfSale == 0 {
		out.PointOfSale = pointOfSale
	}
	if len(out.Errors) > 0 {
		return out, &AuthorityError{Op: "FECompUltimoAutorizado", Messages: out.Errors}
	}
	return out, nil
}

// Query consulta un comprobante emitido (FECompConsultar).
func (c *WSFEClient) Query(ctx context.Context, ticket *entity.AuthTicket, docType string, pointOfSale int, number int64) (*entity.CAEQuery, error) {
	cbteTipo, ok := pkgafip.CbteTipo(docType)
	if !ok {
		return nil, fmt.Errorf("%w: tipo de comprobante %q sin código AFIP", domain.ErrConfiguration, docType)
	}
	if ticket == nil {
		return nil, fmt.Errorf("%w: sin ticket de acceso", domain.ErrAuthUnavailable)
	}
	payload, err := BuildFECompConsultar(AuthFromTicket(ticket, c.cfg.CUIT), cbteTipo, pointOfSale, number)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "wsfe.FECompConsultar", trace.WithAttributes(
		attribute.Int("afip.cbte_tipo", cbteTipo),
		attribute.Int("afip.pto_vta", pointOfSale),
		attribute.Int64("afip.numero", number),
	))
	defer span.End()

	raw, err := c.call(ctx, "FECompConsultar", payload)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	out, err := parseQueryResponse(raw, c.cfg.Location)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if out.CbteTipo == 0 {
		out.CbteTipo = cbteTipo
	}
	if out.PointOfSale == 0 {
		out.PointOfSale = pointOfSale
	}
	if out.Number == 0 {
		out.Number = number
	}
	return out, nil
}

// call envía la operación op y registra duración y resultado de transporte.
func (c *WSFEClient) call(ctx context.Context, op string, payload []byte) ([]byte, error) {
	start := time.Now()
	raw, err := postSOAP(ctx, c.http, c.cfg.Endpoint, op, wsfeNS+op, payload)
	elapsed := time.Since(start)
	if err != nil {
		c.obs.CallFinished(op, OutcomeTransport, elapsed)
		c.log.Warn().Err(err).Str("op", op).Dur("elapsed", elapsed).Msg("error de transporte WSFE")
		return nil, err
	}
	c.obs.CallFinished(op, OutcomeOK, elapsed)
	return raw, nil
}

// AuthorityError la autoridad respondió con errores de negocio (Errors/Err) a una consulta.
type AuthorityError struct {
	Op       string
	Messages []entity.AuthorityMessage
}

func (e *AuthorityError) Error() string {
	r := entity.AuthorizationResult{Errors: e.Messages}
	return fmt.Sprintf("wsfe: %s: %s", e.Op, r.DiagnosticLine())
}

// HasTokenError indica si err es un AuthorityError con códigos de token (600 o 601).
func HasTokenError(err error) bool {
	var ae *AuthorityError
	if !errors.As(err, &ae) {
		return false
	}
	for _, m := range ae.Messages {
		if pkgafip.IsTokenError(m.Code) {
			return true
		}
	}
	return false
}
