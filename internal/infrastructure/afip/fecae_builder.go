package afip

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/facturacion-afip/internal/domain"
	"github.com/jhoicas/facturacion-afip/internal/domain/entity"
	pkgafip "github.com/jhoicas/facturacion-afip/pkg/afip"
)

// Auth bloque de autenticación que acompaña toda operación WSFE.
type Auth struct {
	Token string
	Sign  string
	Cuit  string
}

// AuthFromTicket arma el bloque Auth con el CUIT del emisor.
func AuthFromTicket(t *entity.AuthTicket, cuit string) Auth {
	return Auth{Token: t.Token, Sign: t.Sign, Cuit: cuit}
}

// Referencia libre en notas: "factura B 0003-00000042".
var assocNoteRe = regexp.MustCompile(`(?i)factura\s+([ABC])\s+(\d+)-(\d+)`)

// AssociatedRef comprobante asociado de una nota de crédito/débito.
type AssociatedRef struct {
	CbteTipo    int
	PointOfSale int
	Number      int64
}

// ResolveAssociated toma la referencia explícita de la nota; si está incompleta la busca en
// las notas libres. ok es false si ninguna fuente da una referencia completa.
func ResolveAssociated(inv *entity.Invoice) (AssociatedRef, bool) {
	if inv.HasAssociation() {
		if code, ok := pkgafip.CbteTipo(inv.AssocDocType); ok {
			return AssociatedRef{CbteTipo: code, PointOfSale: inv.AssocPointOfSale, Number: inv.AssocNumber}, true
		}
	}
	m := assocNoteRe.FindStringSubmatch(inv.Notes)
	if m == nil {
		return AssociatedRef{}, false
	}
	code, ok := pkgafip.CbteTipo("F" + strings.ToUpper(m[1]))
	if !ok {
		return AssociatedRef{}, false
	}
	pos, err1 := strconv.Atoi(m[2])
	nro, err2 := strconv.ParseInt(m[3], 10, 64)
	if err1 != nil || err2 != nil || pos <= 0 || nro <= 0 {
		return AssociatedRef{}, false
	}
	return AssociatedRef{CbteTipo: code, PointOfSale: pos, Number: nro}, true
}

// FormatDate devuelve la fecha en formato AAAAMMDD. Acepta time.Time, *time.Time o un string
// ISO (2026-10-15, 2026-10-15T10:00:00Z), DD/MM/AAAA o AAAAMMDD. Si no se puede interpretar
// usa now.
func FormatDate(v any, now time.Time) string {
	const out = "20060102"
	switch d := v.(type) {
	case time.Time:
		if !d.IsZero() {
			return d.Format(out)
		}
	case *time.Time:
		if d != nil && !d.IsZero() {
			return d.Format(out)
		}
	case string:
		s := strings.TrimSpace(d)
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.Format(out)
		}
		if len(s) >= 10 {
			if t, err := time.Parse("2006-01-02", s[:10]); err == nil {
				return t.Format(out)
			}
			if t, err := time.Parse("02/01/2006", s[:10]); err == nil {
				return t.Format(out)
			}
		}
		if t, err := time.Parse(out, s); err == nil {
			return t.Format(out)
		}
	}
	return now.Format(out)
}

func amount(d decimal.Decimal, absolute bool) string {
	if absolute {
		d = d.Abs()
	}
	return d.StringFixed(2)
}

// BuildFECAESolicitar arma el envelope SOAP de FECAESolicitar para un único comprobante.
// Falla sin tocar la red si el tipo no está mapeado o si punto de venta o número son 0.
func BuildFECAESolicitar(auth Auth, inv *entity.Invoice, now time.Time) ([]byte, error) {
	cbteTipo, ok := pkgafip.CbteTipo(inv.DocType)
	if !ok {
		return nil, fmt.Errorf("%w: tipo de comprobante %q sin código AFIP", domain.ErrConfiguration, inv.DocType)
	}
	if err := validateNumbering(inv.PointOfSale, inv.Number); err != nil {
		return nil, err
	}
	isNote := pkgafip.IsCreditOrDebitNote(cbteTipo)

	docTipo := inv.ReceiverDocType
	docNro := pkgafip.ExtractDigits(inv.ReceiverDocNumber)
	if docTipo <= 0 {
		docTipo, docNro = pkgafip.DocTipoConsumidorFinal, "0"
	}
	if docNro == "" {
		docNro = "0"
	}

	monID, monCotiz := pkgafip.MonedaPesos, "1"
	if !pkgafip.IsDomesticCurrency(inv.Currency) {
		monID = strings.ToUpper(strings.TrimSpace(inv.Currency))
		monCotiz = inv.ExchangeRate.StringFixed(6)
	}

	var b strings.Builder
	openOp(&b, "FECAESolicitar")
	writeAuth(&b, auth)
	b.WriteString(`<ar:FeCAEReq><ar:FeCabReq>`)
	tag(&b, "CantReg", "1")
	tag(&b, "PtoVta", strconv.Itoa(inv.PointOfSale))
	tag(&b, "CbteTipo", strconv.Itoa(cbteTipo))
	b.WriteString(`</ar:FeCabReq><ar:FeDetReq><ar:FECAEDetRequest>`)
	tag(&b, "Concepto", strconv.Itoa(pkgafip.ConceptoProductos))
	tag(&b, "DocTipo", strconv.Itoa(docTipo))
	tag(&b, "DocNro", docNro)
	tag(&b, "CbteDesde", strconv.FormatInt(inv.Number, 10))
	tag(&b, "CbteHasta", strconv.FormatInt(inv.Number, 10))
	tag(&b, "CbteFch", FormatDate(inv.Date, now))
	tag(&b, "ImpTotal", amount(inv.GrossTotal, isNote))
	tag(&b, "ImpTotConc", "0.00")
	tag(&b, "ImpNeto", amount(inv.NetTotal, isNote))
	tag(&b, "ImpOpEx", "0.00")
	tag(&b, "ImpTrib", "0.00")
	tag(&b, "ImpIVA", amount(inv.TaxTotal, isNote))
	tag(&b, "MonId", monID)
	tag(&b, "MonCotiz", monCotiz)
	if inv.ReceiverIVAConditionID > 0 {
		tag(&b, "CondicionIVAReceptorId", strconv.Itoa(inv.ReceiverIVAConditionID))
	}
	if isNote {
		if ref, ok := ResolveAssociated(inv); ok {
			b.WriteString(`<ar:CbtesAsoc><ar:CbteAsoc>`)
			tag(&b, "Tipo", strconv.Itoa(ref.CbteTipo))
			tag(&b, "PtoVta", strconv.Itoa(ref.PointOfSale))
			tag(&b, "Nro", strconv.FormatInt(ref.Number, 10))
			b.WriteString(`</ar:CbteAsoc></ar:CbtesAsoc>`)
		}
	}
	// Una sola alícuota (21 %); las facturas con varias alícuotas no se desglosan.
	b.WriteString(`<ar:Iva><ar:AlicIva>`)
	tag(&b, "Id", strconv.Itoa(pkgafip.AlicuotaIVA21))
	tag(&b, "BaseImp", amount(inv.NetTotal, true))
	tag(&b, "Importe", amount(inv.TaxTotal, true))
	b.WriteString(`</ar:AlicIva></ar:Iva>`)
	b.WriteString(`</ar:FECAEDetRequest></ar:FeDetReq></ar:FeCAEReq>`)
	closeOp(&b, "FECAESolicitar")
	return []byte(b.String()), nil
}

// BuildFECompUltimoAutorizado arma el envelope de FECompUltimoAutorizado.
func BuildFECompUltimoAutorizado(auth Auth, cbteTipo, pointOfSale int) ([]byte, error) {
	if pointOfSale <= 0 {
		return nil, fmt.Errorf("%w: punto de venta %d", domain.ErrInvalidInput, pointOfSale)
	}
	var b strings.Builder
	openOp(&b, "FECompUltimoAutorizado")
	writeAuth(&b, auth)
	tag(&b, "PtoVta", strconv.Itoa(pointOfSale))
	tag(&b, "CbteTipo", strconv.Itoa(cbteTipo))
	closeOp(&b, "FECompUltimoAutorizado")
	return []byte(b.String()), nil
}

// BuildFECompConsultar arma el envelope de FECompConsultar.
func BuildFECompConsultar(auth Auth, cbteTipo, pointOfSale int, number int64) ([]byte, error) {
	if err := validateNumbering(pointOfSale, number); err != nil {
		return nil, err
	}
	var b strings.Builder
	openOp(&b, "FECompConsultar")
	writeAuth(&b, auth)
	b.WriteString(`<ar:FeCompConsReq>`)
	tag(&b, "CbteTipo", strconv.Itoa(cbteTipo))
	tag(&b, "CbteNro", strconv.FormatInt(number, 10))
	tag(&b, "PtoVta", strconv.Itoa(pointOfSale))
	b.WriteString(`</ar:FeCompConsReq>`)
	closeOp(&b, "FECompConsultar")
	return []byte(b.String()), nil
}

func validateNumbering(pointOfSale int, number int64) error {
	if pointOfSale <= 0 {
		return fmt.Errorf("%w: punto de venta %d", domain.ErrInvalidInput, pointOfSale)
	}
	if number <= 0 {
		return fmt.Errorf("%w: número de comprobante %d", domain.ErrInvalidInput, number)
	}
	return nil
}

func openOp(b *strings.Builder, op string) {
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<soap:Envelope xmlns:soap="` + soapNS + `" xmlns:ar="` + wsfeNS + `">`)
	b.WriteString(`<soap:Header/><soap:Body><ar:` + op + `>`)
}

func closeOp(b *strings.Builder, op string) {
	b.WriteString(`</ar:` + op + `></soap:Body></soap:Envelope>`)
}

func writeAuth(b *strings.Builder, a Auth) {
	b.WriteString(`<ar:Auth>`)
	tag(b, "Token", a.Token)
	tag(b, "Sign", a.Sign)
	tag(b, "Cuit", a.Cuit)
	b.WriteString(`</ar:Auth>`)
}

// tag escribe <ar:name>value</ar:name> escapando value.
func tag(b *strings.Builder, name, value string) {
	b.WriteString("<ar:" + name + ">")
	b.WriteString(escapeXML(value))
	b.WriteString("</ar:" + name + ">")
}
