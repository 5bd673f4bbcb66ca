package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/facturacion-afip/internal/domain"
	"github.com/jhoicas/facturacion-afip/internal/domain/entity"
	"github.com/jhoicas/facturacion-afip/internal/domain/repository"
	infraafip "github.com/jhoicas/facturacion-afip/internal/infrastructure/afip"
	pkgafip "github.com/jhoicas/facturacion-afip/pkg/afip"
	"github.com/jhoicas/facturacion-afip/pkg/logger"
)

// OrchestratorConfig dependencias opcionales del orquestador.
type OrchestratorConfig struct {
	Logger   *logger.Logger
	Recorder Recorder
	Now      func() time.Time
	Location *time.Location // zona de las anotaciones y de la fecha de las NC
}

// AuthorizationOrchestrator coordina el ciclo de autorización de comprobantes:
//
//	lock → validaciones locales → ticket WSAA → FECAESolicitar → transición de estado
//
// Cada operación pública corre hasta completar su transición aunque el llamador cancele
// el contexto: una respuesta de la autoridad nunca queda sin persistir por una cancelación.
type AuthorizationOrchestrator struct {
	tx       TxRunner
	invoices repository.InvoiceRepository // lecturas fuera de transacción
	wsaa     AuthProvider
	wsfe     AuthorityClient
	sm       StateMachine
	rec      Recorder
	log      *logger.Logger
	now      func() time.Time
	loc      *time.Location
}

// NewAuthorizationOrchestrator construye el orquestador. states debe venir de ResolveStates.
func NewAuthorizationOrchestrator(
	tx TxRunner,
	invoices repository.InvoiceRepository,
	wsaa AuthProvider,
	wsfe AuthorityClient,
	states entity.StateSet,
	cfg OrchestratorConfig,
) *AuthorizationOrchestrator {
	o := &AuthorizationOrchestrator{
		tx:       tx,
		invoices: invoices,
		wsaa:     wsaa,
		wsfe:     wsfe,
		sm:       NewStateMachine(states),
		rec:      cfg.Recorder,
		log:      logger.OrNop(cfg.Logger).Component("orchestrator"),
		now:      cfg.Now,
		loc:      cfg.Location,
	}
	if o.rec == nil {
		o.rec = nopRecorder{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.loc == nil {
		o.loc = time.Local
	}
	return o
}

// States devuelve los ids de estado resueltos.
func (o *AuthorizationOrchestrator) States() entity.StateSet { return o.sm.States }

// authSession reutiliza un ticket durante una operación (o un lote completo).
type authSession struct {
	provider AuthProvider
	ticket   *entity.AuthTicket
}

func (s *authSession) get(ctx context.Context) (*entity.AuthTicket, error) {
	if s.ticket == nil {
		t, err := s.provider.GetAuth(ctx, false)
		if err != nil {
			return nil, err
		}
		s.ticket = t
	}
	return s.ticket, nil
}

func (s *authSession) renew(ctx context.Context) (*entity.AuthTicket, error) {
	t, err := s.provider.GetAuth(ctx, true)
	if err != nil {
		return nil, err
	}
	s.ticket = t
	return t, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Operación A: autorizar
// ═══════════════════════════════════════════════════════════════════════════

// Authorize solicita el CAE de un comprobante y persiste la transición resultante.
//
// Devuelve error solo si no hubo transición: comprobante inexistente, estado inválido,
// configuración (ErrConfiguration/ErrInvalidInput) o WSAA no disponible (ErrAuthUnavailable).
// Rechazos y fallas de comunicación con el WSFE viajan en el resultado.
func (o *AuthorizationOrchestrator) Authorize(ctx context.Context, invoiceID int64) (*entity.AuthorizationResult, error) {
	ctx = context.WithoutCancel(ctx)
	return o.authorizeInTx(ctx, &authSession{provider: o.wsaa}, invoiceID)
}

func (o *AuthorizationOrchestrator) authorizeInTx(ctx context.Context, sess *authSession, invoiceID int64) (*entity.AuthorizationResult, error) {
	var res *entity.AuthorizationResult
	err := o.tx.RunInvoiceTx(ctx, func(invoices repository.InvoiceRepository, catalog repository.CatalogRepository) error {
		credited, err := o.lockCredited(ctx, invoices, invoiceID)
		if err != nil {
			return err
		}
		r, err := o.authorizeLocked(ctx, invoices, catalog, invoiceID, credited, sess)
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// lockCredited bloquea la factura que anula una nota de crédito, antes que la propia nota y en
// el mismo orden que EmitCreditNote. Devuelve nil si el comprobante no es una NC o si la
// factura referenciada no tiene CAE en esta base.
func (o *AuthorizationOrchestrator) lockCredited(ctx context.Context, invoices repository.InvoiceRepository, id int64) (*entity.Invoice, error) {
	inv, err := invoices.GetByID(ctx, id)
	if err != nil || inv == nil || !pkgafip.IsCreditNote(inv.DocType) || !inv.HasAssociation() {
		return nil, err
	}
	return invoices.LockIssued(ctx, inv.AssocDocType, inv.AssocPointOfSale, inv.AssocNumber)
}

// authorizeLocked ejecuta la Operación A dentro de la transacción del llamador. credited es la
// factura ya bloqueada que la nota anula (nil si no aplica): se anula en la misma transacción
// que registra el CAE de la nota.
func (o *AuthorizationOrchestrator) authorizeLocked(
	ctx context.Context,
	invoices repository.InvoiceRepository,
	catalog repository.CatalogRepository,
	invoiceID int64,
	credited *entity.Invoice,
	sess *authSession,
) (*entity.AuthorizationResult, error) {
	inv, err := invoices.LockByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("comprobante %d: %w", invoiceID, domain.ErrNotFound)
	}

	if inv.StateID == o.sm.States.Authorized {
		if inv.HasCAE() {
			res := o.alreadyAuthorized(inv)
			// Nota autorizada cuya factura quedó vigente: se completa la anulación pendiente.
			if credited != nil && credited.StateID == o.sm.States.Authorized {
				if err := o.voidCredited(ctx, invoices, credited, inv, res); err != nil {
					return nil, err
				}
			}
			return res, nil
		}
		return nil, fmt.Errorf("%w: comprobante %d autorizado sin CAE", domain.ErrInvalidState, inv.ID)
	}
	if !o.sm.CanAuthorize(inv.StateID) {
		return nil, fmt.Errorf("%w: comprobante %d en estado %s", domain.ErrInvalidState, inv.ID, o.sm.States.Name(inv.StateID))
	}

	if credited != nil && credited.StateID != o.sm.States.Authorized {
		return nil, fmt.Errorf("%w: la factura %s %04d-%08d que anula la nota %d está en estado %s",
			domain.ErrInvalidState, credited.DocType, credited.PointOfSale, credited.Number, inv.ID, o.sm.States.Name(credited.StateID))
	}

	if err := o.prepare(ctx, invoices, catalog, inv); err != nil {
		return nil, err
	}

	ticket, err := sess.get(ctx)
	if err != nil {
		return nil, err
	}
	res, err := o.wsfe.RequestCAE(ctx, ticket, inv)
	if err == nil && res.HasErrorCode(pkgafip.IsTokenError) {
		o.log.Warn().Int64("invoice_id", inv.ID).Str("op", "authorize").Msg("WSFE rechazó el token; renovando ticket")
		if ticket, err = sess.renew(ctx); err != nil {
			return nil, err
		}
		res, err = o.wsfe.RequestCAE(ctx, ticket, inv)
	}
	if err != nil {
		if isPreflightError(err) {
			return nil, err
		}
		res = communicationFailure(inv, err)
	}
	if res.Approved && res.CAEExpiration == nil {
		res.Approved = false
		res.Errors = append(res.Errors, entity.AuthorityMessage{Msg: "respuesta aprobada sin vencimiento de CAE"})
	}

	res, err = o.applyOutcome(ctx, invoices, inv, res, "authorize")
	if err != nil || !res.Approved || credited == nil {
		return res, err
	}
	if err := o.voidCredited(ctx, invoices, credited, inv, res); err != nil {
		return nil, err
	}
	return res, nil
}

// voidCredited pasa la factura original a Anulada por NC. Corre en la transacción que
// registra el CAE de la nota.
func (o *AuthorizationOrchestrator) voidCredited(
	ctx context.Context,
	invoices repository.InvoiceRepository,
	credited, nc *entity.Invoice,
	res *entity.AuthorizationResult,
) error {
	next, err := o.sm.Next(credited.StateID, EventCreditNote)
	if err != nil {
		return err
	}
	if err := invoices.ApplyTransition(ctx, credited.ID, repository.Transition{StateID: next}); err != nil {
		return err
	}
	res.VoidedInvoiceID = credited.ID
	o.rec.Transition("credit_note", o.sm.States.Name(next))
	o.log.Info().
		Str("op", "credit_note").
		Int64("invoice_id", credited.ID).
		Int64("nc_id", nc.ID).
		Str("estado", o.sm.States.Name(next)).
		Msg("factura anulada por nota de crédito")
	return nil
}

// prepare valida el comprobante sin tráfico de red y completa la condición IVA del receptor.
func (o *AuthorizationOrchestrator) prepare(
	ctx context.Context,
	invoices repository.InvoiceRepository,
	catalog repository.CatalogRepository,
	inv *entity.Invoice,
) error {
	if _, ok := pkgafip.CbteTipo(inv.DocType); !ok {
		return fmt.Errorf("%w: tipo de comprobante %q sin código AFIP", domain.ErrConfiguration, inv.DocType)
	}
	if inv.PointOfSale <= 0 || inv.Number <= 0 {
		return fmt.Errorf("%w: punto de venta %d y número %d deben ser positivos", domain.ErrInvalidInput, inv.PointOfSale, inv.Number)
	}

	pos, err := catalog.GetPointOfSale(ctx, inv.PointOfSale)
	if err != nil {
		return err
	}
	if pos == nil || !pos.Enabled {
		return fmt.Errorf("%w: punto de venta %d no habilitado", domain.ErrConfiguration, inv.PointOfSale)
	}

	lines, err := invoices.GetLines(ctx, inv.ID)
	if err != nil {
		return err
	}
	if err := entity.ValidateLines(lines); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	ivaID, err := resolveIVACondition(ctx, catalog, inv)
	if err != nil {
		return err
	}
	inv.ReceiverIVAConditionID = ivaID
	return nil
}

// resolveIVACondition: id explícito → código del catálogo → default por tipo de documento.
func resolveIVACondition(ctx context.Context, catalog repository.CatalogRepository, inv *entity.Invoice) (int, error) {
	if inv.ReceiverIVAConditionID > 0 {
		return inv.ReceiverIVAConditionID, nil
	}
	if inv.ReceiverIVAConditionCode != "" {
		c, err := catalog.GetIVAConditionByCode(ctx, inv.ReceiverIVAConditionCode)
		if err != nil {
			return 0, err
		}
		if c == nil {
			return 0, fmt.Errorf("%w: condición IVA %q sin catalogar", domain.ErrConfiguration, inv.ReceiverIVAConditionCode)
		}
		return c.ID, nil
	}
	return pkgafip.DefaultIVAConditionForDocTipo(inv.ReceiverDocType), nil
}

// applyOutcome persiste la transición. Las anotaciones se escriben solo si no hubo aprobación.
func (o *AuthorizationOrchestrator) applyOutcome(
	ctx context.Context,
	invoices repository.InvoiceRepository,
	inv *entity.Invoice,
	res *entity.AuthorizationResult,
	op string,
) (*entity.AuthorizationResult, error) {
	ev := EventCommunicationError
	switch {
	case res.Approved:
		ev = EventApproved
	case res.Rejected:
		ev = EventRejected
	}
	next, err := o.sm.Next(inv.StateID, ev)
	if err != nil {
		return nil, err
	}

	t := repository.Transition{StateID: next}
	if res.Approved {
		if res.ProcessDate == nil {
			now := o.now()
			res.ProcessDate = &now
		}
		t.CAE = res.CAE
		t.CAEIssueDate = res.ProcessDate
		t.CAEExpiration = res.CAEExpiration
	} else {
		t.AppendNote = entity.AuthorityAnnotation(res, o.now().In(o.loc))
	}
	if err := invoices.ApplyTransition(ctx, inv.ID, t); err != nil {
		return nil, err
	}

	res.NewStateID = next
	o.rec.Transition(op, o.sm.States.Name(next))
	o.log.Info().
		Str("op", op).
		Int64("invoice_id", inv.ID).
		Str("doc_type", inv.DocType).
		Int("pto_vta", inv.PointOfSale).
		Int64("numero", inv.Number).
		Str("estado", o.sm.States.Name(next)).
		Str("resultado", res.Outcome()).
		Msg("transición de comprobante")
	return res, nil
}

func (o *AuthorizationOrchestrator) alreadyAuthorized(inv *entity.Invoice) *entity.AuthorizationResult {
	cbteTipo, _ := pkgafip.CbteTipo(inv.DocType)
	return &entity.AuthorizationResult{
		InvoiceID:         inv.ID,
		Approved:          true,
		AlreadyAuthorized: true,
		CAE:               inv.CAE,
		ProcessDate:       inv.CAEIssueDate,
		CAEExpiration:     inv.CAEExpiration,
		NewStateID:        inv.StateID,
		CbteTipo:          cbteTipo,
		PointOfSale:       inv.PointOfSale,
		Number:            inv.Number,
		Errors:            []entity.AuthorityMessage{},
		Observations:      []entity.AuthorityMessage{},
		Summary:           "comprobante ya autorizado",
	}
}

// communicationFailure traduce un error de transporte (o cualquier error no tipado) en resultado.
func communicationFailure(inv *entity.Invoice, err error) *entity.AuthorizationResult {
	cbteTipo, _ := pkgafip.CbteTipo(inv.DocType)
	return &entity.AuthorizationResult{
		InvoiceID:    inv.ID,
		CbteTipo:     cbteTipo,
		PointOfSale:  inv.PointOfSale,
		Number:       inv.Number,
		Errors:       []entity.AuthorityMessage{{Msg: err.Error()}},
		Observations: []entity.AuthorityMessage{},
		Summary:      err.Error(),
	}
}

// isPreflightError errores que impiden toda transición (configuración o autenticación).
func isPreflightError(err error) bool {
	return errors.Is(err, domain.ErrConfiguration) ||
		errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrAuthUnavailable)
}

// ═══════════════════════════════════════════════════════════════════════════
// Operación B: nota de crédito
// ═══════════════════════════════════════════════════════════════════════════

// EmitCreditNote crea la nota de crédito que anula una factura autorizada y la autoriza.
// Si la autoridad la aprueba, la factura original pasa a Anulada por NC en la misma
// transacción que registra el CAE de la nota. Si ya existe una NC pendiente para la factura
// (p.ej. tras un error de comunicación) se retoma esa nota en lugar de numerar otra.
func (o *AuthorizationOrchestrator) EmitCreditNote(ctx context.Context, originalID int64) (*entity.CreditNoteResult, error) {
	ctx = context.WithoutCancel(ctx)

	// 1. Nota en borrador con importes negados, o la NC pendiente existente.
	var (
		nc      *entity.Invoice
		resumed bool
	)
	err := o.tx.RunInvoiceTx(ctx, func(invoices repository.InvoiceRepository, _ repository.CatalogRepository) error {
		orig, err := o.lockVoidable(ctx, invoices, originalID)
		if err != nil {
			return err
		}
		ncType, _ := pkgafip.CreditNoteFor(orig.DocType)
		if nc, err = o.pendingCreditNote(ctx, invoices, orig, ncType); err != nil || nc != nil {
			resumed = nc != nil
			return err
		}

		number, err := invoices.NextNumber(ctx, ncType, orig.PointOfSale)
		if err != nil {
			return err
		}
		lines, err := invoices.GetLines(ctx, orig.ID)
		if err != nil {
			return err
		}

		nc = newCreditNote(orig, ncType, number, o.now().In(o.loc), o.sm.States.Draft)
		if err := invoices.Create(ctx, nc); err != nil {
			return err
		}
		for _, l := range lines {
			neg := l.Negated()
			neg.InvoiceID = nc.ID
			if err := invoices.CreateLine(ctx, neg); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	msg := "nota de crédito creada en borrador"
	if resumed {
		msg = "se retoma la nota de crédito pendiente"
	}
	o.log.Info().
		Str("op", "credit_note").
		Int64("invoice_id", originalID).
		Int64("nc_id", nc.ID).
		Str("doc_type", nc.DocType).
		Int64("numero", nc.Number).
		Str("estado", o.sm.States.Name(nc.StateID)).
		Msg(msg)

	// 2. Autorización de la nota y anulación de la original.
	out := &entity.CreditNoteResult{
		CreditNoteID:      nc.ID,
		DocType:           nc.DocType,
		CreditPointOfSale: nc.PointOfSale,
		CreditNumber:      nc.Number,
		GrossTotal:        nc.GrossTotal,
		Resumed:           resumed,
	}
	sess := &authSession{provider: o.wsaa}
	err = o.tx.RunInvoiceTx(ctx, func(invoices repository.InvoiceRepository, catalog repository.CatalogRepository) error {
		// La original se bloquea antes que la nota para mantener un orden de bloqueo fijo.
		orig, err := o.lockVoidable(ctx, invoices, originalID)
		if err != nil {
			return err
		}
		res, err := o.authorizeLocked(ctx, invoices, catalog, nc.ID, orig, sess)
		if err != nil {
			return err
		}
		out.AuthorizationResult = *res
		out.OriginalVoided = res.VoidedInvoiceID == orig.ID
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("nota de crédito %d (%s %04d-%08d): %w", nc.ID, nc.DocType, nc.PointOfSale, nc.Number, err)
	}
	return out, nil
}

// pendingCreditNote busca una NC no terminal que ya referencie la factura. Una NC autorizada
// con la factura todavía vigente es una inconsistencia y se informa como conflicto.
func (o *AuthorizationOrchestrator) pendingCreditNote(
	ctx context.Context,
	invoices repository.InvoiceRepository,
	orig *entity.Invoice,
	ncType string,
) (*entity.Invoice, error) {
	notes, err := invoices.ListByAssociation(ctx, orig.DocType, orig.PointOfSale, orig.Number)
	if err != nil {
		return nil, err
	}
	for _, n := range notes {
		if n.DocType != ncType {
			continue
		}
		if n.StateID == o.sm.States.Authorized {
			return nil, fmt.Errorf("%w: la factura %d ya tiene la nota de crédito %s %04d-%08d autorizada",
				domain.ErrConflict, orig.ID, n.DocType, n.PointOfSale, n.Number)
		}
		if !o.sm.States.IsTerminal(n.StateID) {
			return n, nil
		}
	}
	return nil, nil
}

// lockVoidable bloquea la factura original y verifica que admita nota de crédito.
func (o *AuthorizationOrchestrator) lockVoidable(ctx context.Context, invoices repository.InvoiceRepository, id int64) (*entity.Invoice, error) {
	orig, err := invoices.LockByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig == nil {
		return nil, fmt.Errorf("comprobante %d: %w", id, domain.ErrNotFound)
	}
	if !pkgafip.IsInvoice(orig.DocType) {
		return nil, fmt.Errorf("%w: %s no admite nota de crédito (solo FA, FB, FC)", domain.ErrInvalidInput, orig.DocType)
	}
	if orig.StateID != o.sm.States.Authorized {
		return nil, fmt.Errorf("%w: la factura %d está en estado %s", domain.ErrInvalidState, id, o.sm.States.Name(orig.StateID))
	}
	return orig, nil
}

// newCreditNote arma la cabecera de la NC: importes negados, mismo receptor y referencia explícita.
func newCreditNote(orig *entity.Invoice, ncType string, number int64, now time.Time, draftID int) *entity.Invoice {
	return &entity.Invoice{
		DocType:                  ncType,
		PointOfSale:              orig.PointOfSale,
		Number:                   number,
		Date:                     now,
		Currency:                 orig.Currency,
		ExchangeRate:             orig.ExchangeRate,
		NetTotal:                 orig.NetTotal.Neg(),
		TaxTotal:                 orig.TaxTotal.Neg(),
		GrossTotal:               orig.GrossTotal.Neg(),
		CustomerID:               orig.CustomerID,
		ReceiverDocType:          orig.ReceiverDocType,
		ReceiverDocNumber:        orig.ReceiverDocNumber,
		ReceiverIVAConditionID:   orig.ReceiverIVAConditionID,
		ReceiverIVAConditionCode: orig.ReceiverIVAConditionCode,
		AssocDocType:             orig.DocType,
		AssocPointOfSale:         orig.PointOfSale,
		AssocNumber:              orig.Number,
		StateID:                  draftID,
		Notes:                    entity.CreditNoteAnnotation(pkgafip.Letter(orig.DocType), orig.PointOfSale, orig.Number),
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Operación C: resincronización
// ═══════════════════════════════════════════════════════════════════════════

type numerator struct {
	docType     string
	pointOfSale int
	invoices    []*entity.Invoice
}

// groupByNumerator agrupa una lista ya ordenada por (tipo, punto de venta, número).
func groupByNumerator(list []*entity.Invoice) []*numerator {
	var out []*numerator
	var cur *numerator
	for _, inv := range list {
		if cur == nil || cur.docType != inv.DocType || cur.pointOfSale != inv.PointOfSale {
			cur = &numerator{docType: inv.DocType, pointOfSale: inv.PointOfSale}
			out = append(out, cur)
		}
		cur.invoices = append(cur.invoices, inv)
	}
	return out
}

// ResyncPending reintenta todos los comprobantes en estados no terminales, alineando la
// numeración local con el último número autorizado por la autoridad en cada numerador.
// Un solo ticket WSAA se reutiliza para todo el lote.
func (o *AuthorizationOrchestrator) ResyncPending(ctx context.Context) (*entity.ResyncSummary, error) {
	ctx = context.WithoutCancel(ctx)
	sum := &entity.ResyncSummary{BatchID: uuid.NewString(), StartedAt: o.now(), Details: []string{}}
	o.rec.ResyncRun()

	pending, err := o.invoices.ListByStates(ctx, o.sm.States.NonTerminal())
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return sum, nil
	}

	sess := &authSession{provider: o.wsaa}
	if _, err := sess.get(ctx); err != nil {
		return sum, err
	}

	for _, g := range groupByNumerator(pending) {
		if err := o.resyncGroup(ctx, sess, g, sum); err != nil {
			return sum, err
		}
	}
	o.log.Info().
		Str("op", "resync").
		Str("batch_id", sum.BatchID).
		Int("procesados", sum.Processed).
		Int("aprobados", sum.Approved).
		Int("rechazados", sum.Rejected).
		Int("errores_comunicacion", sum.CommunicationErrors).
		Int("recuperados", sum.Recovered).
		Int("omitidos", sum.Skipped).
		Msg("resincronización finalizada")
	return sum, nil
}

// resyncGroup procesa un numerador en orden. Solo devuelve error si el WSAA deja de estar disponible.
func (o *AuthorizationOrchestrator) resyncGroup(ctx context.Context, sess *authSession, g *numerator, sum *entity.ResyncSummary) error {
	last, fromAuthority, err := o.lastAuthorizedForGroup(ctx, sess, g)
	if err != nil {
		return err
	}
	next := last + 1

	for _, inv := range g.invoices {
		sum.Processed++

		if fromAuthority && inv.StateID == o.sm.States.CommunicationError && inv.Number <= last {
			ok, err := o.tryRecover(ctx, sess, inv)
			if err != nil {
				if errors.Is(err, domain.ErrAuthUnavailable) {
					return err
				}
				o.log.Warn().Err(err).Int64("invoice_id", inv.ID).Msg("no se pudo recuperar el CAE")
			}
			if ok {
				sum.Recovered++
				sum.Approved++
				sum.Details = append(sum.Details, detailLine(inv, "CAE recuperado de la autoridad"))
				continue
			}
		}

		if inv.Number != next {
			if err := o.renumber(ctx, inv.ID, next); err != nil {
				sum.Skipped++
				sum.Details = append(sum.Details, detailLine(inv, "no se pudo renumerar: "+err.Error()))
				continue
			}
			sum.Details = append(sum.Details, detailLine(inv, fmt.Sprintf("renumerado a %d", next)))
			inv.Number = next
		}

		res, err := o.authorizeInTx(ctx, sess, inv.ID)
		if err != nil {
			if errors.Is(err, domain.ErrAuthUnavailable) {
				return err
			}
			sum.Skipped++
			sum.Details = append(sum.Details, detailLine(inv, "omitido: "+err.Error()))
			continue
		}

		switch {
		case res.Approved:
			sum.Approved++
			next++
		case res.Rejected:
			sum.Rejected++
			next++
		default:
			// El número no fue consumido por la autoridad: queda para el siguiente.
			sum.CommunicationErrors++
		}
		sum.Details = append(sum.Details, detailLine(inv, outcomeDetail(res)))
	}
	return nil
}

// lastAuthorizedForGroup devuelve el último número del numerador y si lo informó la autoridad.
// Si la consulta falla se usa el mayor número autorizado localmente.
func (o *AuthorizationOrchestrator) lastAuthorizedForGroup(ctx context.Context, sess *authSession, g *numerator) (int64, bool, error) {
	la, err := o.lastAuthorized(ctx, sess, g.docType, g.pointOfSale)
	if err == nil {
		return la.LastNumber, true, nil
	}
	if errors.Is(err, domain.ErrAuthUnavailable) {
		return 0, false, err
	}

	local, lerr := o.invoices.MaxAuthorizedNumber(ctx, g.docType, g.pointOfSale, o.sm.States.Authorized)
	if lerr != nil {
		return 0, false, lerr
	}
	o.log.Warn().Err(err).
		Str("doc_type", g.docType).
		Int("pto_vta", g.pointOfSale).
		Int64("ultimo_local", local).
		Msg("FECompUltimoAutorizado falló; se usa la numeración local")
	return local, false, nil
}

// tryRecover adopta el CAE de un comprobante que quedó en error de comunicación si la
// autoridad lo registra aprobado con el mismo total y ningún otro comprobante local ocupa el número.
func (o *AuthorizationOrchestrator) tryRecover(ctx context.Context, sess *authSession, inv *entity.Invoice) (bool, error) {
	taken, err := o.invoices.SlotTaken(ctx, inv.DocType, inv.PointOfSale, inv.Number)
	if err != nil || taken {
		return false, err
	}
	q, err := o.query(ctx, sess, inv.DocType, inv.PointOfSale, inv.Number)
	if err != nil {
		return false, err
	}
	if !q.Approved() || q.CAEExpiration == nil || !q.GrossTotal.Equal(inv.GrossTotal.Abs()) {
		return false, nil
	}

	recovered := false
	err = o.tx.RunInvoiceTx(ctx, func(invoices repository.InvoiceRepository, _ repository.CatalogRepository) error {
		credited, err := o.lockCredited(ctx, invoices, inv.ID)
		if err != nil {
			return err
		}
		cur, err := invoices.LockByID(ctx, inv.ID)
		if err != nil || cur == nil || cur.StateID != o.sm.States.CommunicationError || cur.Number != inv.Number {
			return err
		}
		next, err := o.sm.Next(cur.StateID, EventApproved)
		if err != nil {
			return err
		}
		if err := invoices.ApplyTransition(ctx, cur.ID, repository.Transition{
			StateID:       next,
			CAE:           q.CAE,
			CAEIssueDate:  q.ProcessDate,
			CAEExpiration: q.CAEExpiration,
		}); err != nil {
			return err
		}
		recovered = true
		o.rec.Transition("resync_recover", o.sm.States.Name(next))

		// La autoridad ya aprobó la nota: la factura se anula si sigue vigente.
		if credited == nil {
			return nil
		}
		if credited.StateID != o.sm.States.Authorized {
			o.log.Warn().
				Int64("nc_id", cur.ID).
				Int64("invoice_id", credited.ID).
				Str("estado", o.sm.States.Name(credited.StateID)).
				Msg("nota de crédito recuperada sobre una factura no vigente")
			return nil
		}
		return o.voidCredited(ctx, invoices, credited, cur, &entity.AuthorizationResult{})
	})
	return recovered, err
}

// renumber reasigna el número en una transacción propia, antes de pedir el CAE.
func (o *AuthorizationOrchestrator) renumber(ctx context.Context, id, number int64) error {
	return o.tx.RunInvoiceTx(ctx, func(invoices repository.InvoiceRepository, _ repository.CatalogRepository) error {
		cur, err := invoices.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return fmt.Errorf("comprobante %d: %w", id, domain.ErrNotFound)
		}
		if o.sm.States.IsTerminal(cur.StateID) {
			return fmt.Errorf("%w: comprobante %d ya en estado %s", domain.ErrInvalidState, id, o.sm.States.Name(cur.StateID))
		}
		return invoices.Renumber(ctx, id, number)
	})
}

func detailLine(inv *entity.Invoice, msg string) string {
	return fmt.Sprintf("%s %04d-%08d (id %d): %s", inv.DocType, inv.PointOfSale, inv.Number, inv.ID, msg)
}

func outcomeDetail(res *entity.AuthorizationResult) string {
	if res.Approved {
		return "aprobado CAE " + res.CAE
	}
	diag := res.DiagnosticLine()
	if diag == "" {
		diag = res.Summary
	}
	return res.Outcome() + ": " + diag
}

// ═══════════════════════════════════════════════════════════════════════════
// Consultas
// ═══════════════════════════════════════════════════════════════════════════

// Verify consulta a la autoridad el comprobante (FECompConsultar) y lo compara con el estado local.
// No escribe en la base.
func (o *AuthorizationOrchestrator) Verify(ctx context.Context, invoiceID int64) (*entity.VerifyResult, error) {
	inv, err := o.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("comprobante %d: %w", invoiceID, domain.ErrNotFound)
	}
	if inv.PointOfSale <= 0 || inv.Number <= 0 {
		return nil, fmt.Errorf("%w: punto de venta %d y número %d deben ser positivos", domain.ErrInvalidInput, inv.PointOfSale, inv.Number)
	}

	q, err := o.query(ctx, &authSession{provider: o.wsaa}, inv.DocType, inv.PointOfSale, inv.Number)
	if err != nil {
		return nil, err
	}
	return &entity.VerifyResult{
		InvoiceID:    inv.ID,
		DocType:      inv.DocType,
		PointOfSale:  inv.PointOfSale,
		Number:       inv.Number,
		LocalStateID: inv.StateID,
		LocalState:   o.sm.States.Name(inv.StateID),
		LocalCAE:     inv.CAE,
		Remote:       q,
		Consistent:   (q.Approved() && q.CAE == inv.CAE) || (!q.Approved() && inv.CAE == ""),
	}, nil
}

// LastAuthorized devuelve el último número autorizado por la autoridad para (tipo, punto de venta).
func (o *AuthorizationOrchestrator) LastAuthorized(ctx context.Context, docType string, pointOfSale int) (*entity.LastAuthorized, error) {
	if pointOfSale <= 0 {
		return nil, fmt.Errorf("%w: punto de venta %d", domain.ErrInvalidInput, pointOfSale)
	}
	return o.lastAuthorized(ctx, &authSession{provider: o.wsaa}, docType, pointOfSale)
}

func (o *AuthorizationOrchestrator) lastAuthorized(ctx context.Context, sess *authSession, docType string, pointOfSale int) (*entity.LastAuthorized, error) {
	ticket, err := sess.get(ctx)
	if err != nil {
		return nil, err
	}
	la, err := o.wsfe.LastAuthorized(ctx, ticket, docType, pointOfSale)
	if err != nil && infraafip.HasTokenError(err) {
		if ticket, err = sess.renew(ctx); err != nil {
			return nil, err
		}
		la, err = o.wsfe.LastAuthorized(ctx, ticket, docType, pointOfSale)
	}
	return la, err
}

func (o *AuthorizationOrchestrator) query(ctx context.Context, sess *authSession, docType string, pointOfSale int, number int64) (*entity.CAEQuery, error) {
	ticket, err := sess.get(ctx)
	if err != nil {
		return nil, err
	}
	q, err := o.wsfe.Query(ctx, ticket, docType, pointOfSale, number)
	if err == nil && hasTokenCode(q.Errors) {
		if ticket, err = sess.renew(ctx); err != nil {
			return nil, err
		}
		q, err = o.wsfe.Query(ctx, ticket, docType, pointOfSale, number)
	}
	return q, err
}

func hasTokenCode(msgs []entity.AuthorityMessage) bool {
	for _, m := range msgs {
		if pkgafip.IsTokenError(m.Code) {
			return true
		}
	}
	return false
}
