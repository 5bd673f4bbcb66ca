package afip

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"

	"github.com/jhoicas/facturacion-afip/internal/domain"
	"github.com/jhoicas/facturacion-afip/internal/domain/entity"
)

// Las respuestas llegan con o sin prefijos de namespace según el entorno: toda búsqueda
// se hace por nombre local en cualquier nivel (".//Tag" ignora el namespace en etree).

// parseXML lee una respuesta de la autoridad. Acepta declaraciones ISO-8859-1.
func parseXML(raw []byte) (*etree.Document, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '<' {
		return nil, fmt.Errorf("respuesta no XML")
	}
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charsetReader
	if err := doc.ReadFromBytes(trimmed); err != nil {
		return nil, err
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("respuesta XML vacía")
	}
	// Una página HTML bien formada no es una respuesta SOAP.
	if strings.EqualFold(doc.Root().Tag, "html") {
		return nil, fmt.Errorf("respuesta HTML")
	}
	return doc, nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "utf-8", "utf8", "":
		return input, nil
	case "iso-8859-1", "iso8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	}
	return nil, fmt.Errorf("charset no soportado: %s", label)
}

func find(el *etree.Element, local string) *etree.Element {
	if el == nil {
		return nil
	}
	return el.FindElement(".//" + local)
}

func findText(el *etree.Element, local string) string {
	if e := find(el, local); e != nil {
		return strings.TrimSpace(e.Text())
	}
	return ""
}

// collectMessages junta pares Code/Msg de todos los elementos local (Err, Obs, Evt).
func collectMessages(el *etree.Element, local string) []entity.AuthorityMessage {
	if el == nil {
		return nil
	}
	var out []entity.AuthorityMessage
	for _, e := range el.FindElements(".//" + local) {
		code, _ := strconv.Atoi(findText(e, "Code"))
		out = append(out, entity.AuthorityMessage{Code: code, Msg: findText(e, "Msg")})
	}
	return out
}

// soapFault devuelve faultcode y faultstring si el cuerpo es un SOAP Fault.
func soapFault(doc *etree.Document) (code, msg string, ok bool) {
	f := find(doc.Root(), "Fault")
	if f == nil {
		return "", "", false
	}
	return findText(f, "faultcode"), findText(f, "faultstring"), true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseAuthorityDate interpreta yyyymmdd o yyyymmddhhmmss en loc.
func parseAuthorityDate(s string, loc *time.Location) *time.Time {
	s = strings.TrimSpace(s)
	var layout string
	switch len(s) {
	case 8:
		layout = "20060102"
	case 14:
		layout = "20060102150405"
	default:
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(layout, s, loc)
	if err != nil {
		return nil
	}
	return &t
}

// ── loginCms ────────────────────────────────────────────────────────────────

// parseLoginCmsResponse extrae el LoginTicketResponse embebido como texto en loginCmsReturn.
func parseLoginCmsResponse(raw []byte, issuerCUIT string) (*entity.AuthTicket, error) {
	doc, err := parseXML(raw)
	if err != nil {
		return nil, fmt.Errorf("wsaa: %w: %s", err, Summarize(raw))
	}
	if code, msg, ok := soapFault(doc); ok {
		return nil, loginFaultError(code, msg)
	}
	ret := find(doc.Root(), "loginCmsReturn")
	if ret == nil {
		return nil, fmt.Errorf("wsaa: falta loginCmsReturn: %s", Summarize(raw))
	}
	inner, err := parseXML([]byte(strings.TrimSpace(ret.Text())))
	if err != nil {
		return nil, fmt.Errorf("wsaa: LoginTicketResponse inválido: %w", err)
	}
	root := inner.Root()
	token, sign := findText(root, "token"), findText(root, "sign")
	expRaw := ""
	if header := find(root, "header"); header != nil {
		expRaw = findText(header, "expirationTime")
	}
	if token == "" || sign == "" || expRaw == "" {
		return nil, fmt.Errorf("wsaa: LoginTicketResponse incompleto (token, sign o expirationTime)")
	}
	exp, err := parseAuthorityTime(expRaw)
	if err != nil {
		return nil, fmt.Errorf("wsaa: expirationTime: %w", err)
	}
	return &entity.AuthTicket{Token: token, Sign: sign, IssuerCUIT: issuerCUIT, ExpiresAt: exp}, nil
}

// loginFaultError clasifica un SOAP Fault del WSAA.
func loginFaultError(code, msg string) error {
	if strings.Contains(code, "alreadyAuthenticated") || strings.Contains(msg, "alreadyAuthenticated") {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyAuthenticated, msg)
	}
	return fmt.Errorf("wsaa: SOAP Fault [%s]: %s", code, msg)
}

// ── FECAESolicitar ──────────────────────────────────────────────────────────

// parseFECAEResponse arma el AuthorizationResult. Nunca devuelve error: una respuesta
// ilegible produce approved=false, rejected=false con el contenido resumido en Errors.
func parseFECAEResponse(raw []byte, loc *time.Location) *entity.AuthorizationResult {
	res := &entity.AuthorizationResult{}
	doc, err := parseXML(raw)
	if err != nil {
		res.Errors = []entity.AuthorityMessage{{Msg: "respuesta no interpretable: " + Summarize(raw)}}
		res.Summary = "La AFIP devolvió una respuesta no interpretable"
		return res
	}
	if code, msg, ok := soapFault(doc); ok {
		res.Errors = []entity.AuthorityMessage{{Msg: fmt.Sprintf("SOAP Fault [%s]: %s", code, msg)}}
		res.Summary = "La AFIP devolvió un SOAP Fault"
		return res
	}
	root := find(doc.Root(), "FECAESolicitarResult")
	if root == nil {
		res.Errors = []entity.AuthorityMessage{{Msg: "respuesta sin FECAESolicitarResult: " + Summarize(raw)}}
		res.Summary = "Respuesta inesperada de la AFIP"
		return res
	}

	det := find(root, "FECAEDetResponse")
	cab := find(root, "FeCabResp")
	resultado := findText(det, "Resultado")
	if resultado == "" {
		resultado = findText(cab, "Resultado")
	}

	res.Errors = collectMessages(find(root, "Errors"), "Err")
	res.Observations = collectMessages(det, "Obs")
	res.Events = collectMessages(find(root, "Events"), "Evt")
	res.ProcessDate = parseAuthorityDate(findText(cab, "FchProceso"), loc)

	cae := findText(det, "CAE")
	switch strings.ToUpper(resultado) {
	case "A":
		if allDigits(cae) {
			res.Approved = true
			res.CAE = cae
			res.CAEExpiration = parseAuthorityDate(findText(det, "CAEFchVto"), loc)
		} else {
			res.Errors = append(res.Errors, entity.AuthorityMessage{Msg: fmt.Sprintf("resultado A con CAE inválido %q", cae)})
		}
	case "R":
		res.Rejected = true
	}
	res.Summary = summaryFor(res)
	return res
}

func summaryFor(r *entity.AuthorizationResult) string {
	switch {
	case r.Approved:
		s := "Comprobante autorizado. CAE " + r.CAE
		if r.CAEExpiration != nil {
			s += " vence " + r.CAEExpiration.Format("02/01/2006")
		}
		if len(r.Observations) > 0 {
			s += fmt.Sprintf(" (%d observaciones)", len(r.Observations))
		}
		return s
	case r.Rejected:
		return "Comprobante rechazado por la AFIP: " + r.DiagnosticLine()
	}
	if d := r.DiagnosticLine(); d != "" {
		return "Sin resultado de la AFIP: " + d
	}
	return "Sin resultado de la AFIP"
}

// ── FECompUltimoAutorizado ──────────────────────────────────────────────────

func parseLastAuthorizedResponse(raw []byte) (*entity.LastAuthorized, error) {
	doc, err := parseXML(raw)
	if err != nil {
		return nil, fmt.Errorf("wsfe: FECompUltimoAutorizado: %w: %s", err, Summarize(raw))
	}
	if code, msg, ok := soapFault(doc); ok {
		return nil, fmt.Errorf("wsfe: FECompUltimoAutorizado: SOAP Fault [%s]: %s", code, msg)
	}
	root := find(doc.Root(), "FECompUltimoAutorizadoResult")
	if root == nil {
		return nil, fmt.Errorf("wsfe: falta FECompUltimoAutorizadoResult: %s", Summarize(raw))
	}
	out := &entity.LastAuthorized{Errors: collectMessages(find(root, "Errors"), "Err")}
	out.PointOfSale, _ = strconv.Atoi(findText(root, "PtoVta"))
	out.CbteTipo, _ = strconv.Atoi(findText(root, "CbteTipo"))
	nro := findText(root, "CbteNro")
	if nro == "" {
		if len(out.Errors) == 0 {
			return nil, fmt.Errorf("wsfe: FECompUltimoAutorizado sin CbteNro")
		}
		return out, nil
	}
	n, err := strconv.ParseInt(nro, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("wsfe: CbteNro inválido %q", nro)
	}
	out.LastNumber = n
	return out, nil
}

// ── FECompConsultar ─────────────────────────────────────────────────────────

func parseQueryResponse(raw []byte, loc *time.Location) (*entity.CAEQuery, error) {
	doc, err := parseXML(raw)
	if err != nil {
		return nil, fmt.Errorf("wsfe: FECompConsultar: %w: %s", err, Summarize(raw))
	}
	if code, msg, ok := soapFault(doc); ok {
		return nil, fmt.Errorf("wsfe: FECompConsultar: SOAP Fault [%s]: %s", code, msg)
	}
	root := find(doc.Root(), "FECompConsultarResult")
	if root == nil {
		return nil, fmt.Errorf("wsfe: falta FECompConsultarResult: %s", Summarize(raw))
	}
	out := &entity.CAEQuery{Errors: collectMessages(find(root, "Errors"), "Err")}
	get := find(root, "ResultGet")
	if get == nil {
		return out, nil
	}
	out.Found = true
	out.Result = strings.ToUpper(findText(get, "Resultado"))
	out.CAE = findText(get, "CodAutorizacion")
	out.CAEExpiration = parseAuthorityDate(findText(get, "FchVto"), loc)
	out.ProcessDate = parseAuthorityDate(findText(get, "FchProceso"), loc)
	out.CbteTipo, _ = strconv.Atoi(findText(get, "CbteTipo"))
	out.PointOfSale, _ = strconv.Atoi(findText(get, "PtoVta"))
	out.Number, _ = strconv.ParseInt(findText(get, "CbteDesde"), 10, 64)
	if total, err := decimal.NewFromString(findText(get, "ImpTotal")); err == nil {
		out.GrossTotal = total
	}
	out.Observations = collectMessages(get, "Obs")
	return out, nil
}
