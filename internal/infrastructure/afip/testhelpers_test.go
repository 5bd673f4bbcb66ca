package afip_test

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pkgafip "github.com/jhoicas/facturacion-afip/pkg/afip"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers compartidos por los tests del paquete
// ──────────────────────────────────────────────────────────────────────────────

const testCUIT = "20123456786"

var art = time.FixedZone("ART", -3*60*60)

// fixedNow instante fijo de referencia (15/10/2026 10:00 -03:00).
var fixedNow = time.Date(2026, 10, 15, 10, 0, 0, 0, art)

func clock() time.Time { return fixedNow }

// fakeCert certificado mínimo: el firmador de prueba no lo usa.
var fakeCert = tls.Certificate{Certificate: [][]byte{{0x30}}, PrivateKey: "llave"}

// fakeSigner devuelve bytes fijos como CMS.
var fakeSigner = pkgafip.SignerFunc(func(_ context.Context, content []byte, _ tls.Certificate) ([]byte, error) {
	return append([]byte("CMS:"), content[:8]...), nil
})

func escapeText(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// loginResponse arma la respuesta de loginCms con el LoginTicketResponse embebido como texto.
func loginResponse(token, sign string, exp time.Time) string {
	inner := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<loginTicketResponse version="1.0"><header><source>CN=wsaahomo</source>` +
		`<destination>SERIALNUMBER=CUIT 20123456786</destination><uniqueId>1</uniqueId>` +
		`<generationTime>` + exp.Add(-12*time.Hour).Format("2006-01-02T15:04:05.000-07:00") + `</generationTime>` +
		`<expirationTime>` + exp.Format("2006-01-02T15:04:05.000-07:00") + `</expirationTime></header>` +
		`<credentials><token>` + token + `</token><sign>` + sign + `</sign></credentials></loginTicketResponse>`
	return `<?xml version="1.0" encoding="utf-8"?>` +
		`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body>` +
		`<loginCmsResponse xmlns="http://wsaa.view.sua.dvadac.desein.afip.gov"><loginCmsReturn>` +
		escapeText(inner) +
		`</loginCmsReturn></loginCmsResponse></soapenv:Body></soapenv:Envelope>`
}

const alreadyAuthenticatedFault = `<?xml version="1.0" encoding="utf-8"?>` +
	`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body><soapenv:Fault>` +
	`<faultcode xmlns:ns1="http://xml.apache.org/axis/">ns1:coe.alreadyAuthenticated</faultcode>` +
	`<faultstring>El CEE ya posee un TA valido para el acceso al WSN solicitado</faultstring>` +
	`</soapenv:Fault></soapenv:Body></soapenv:Envelope>`

// recordingServer servidor SOAP de prueba que registra cada request.
type recordingServer struct {
	*httptest.Server
	mu      sync.Mutex
	bodies  []string
	actions []string
	calls   atomic.Int32
	respond func(n int, body string) (int, string)
	delay   time.Duration
}

func newRecordingServer(t *testing.T, respond func(n int, body string) (int, string)) *recordingServer {
	t.Helper()
	rs := &recordingServer{respond: respond}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(rs.calls.Add(1))
		raw, _ := io.ReadAll(r.Body)
		rs.mu.Lock()
		rs.bodies = append(rs.bodies, string(raw))
		rs.actions = append(rs.actions, r.Header.Get("SOAPAction"))
		rs.mu.Unlock()
		if rs.delay > 0 {
			time.Sleep(rs.delay)
		}
		status, body := rs.respond(n, string(raw))
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) body(i int) string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.bodies[i]
}

func (rs *recordingServer) action(i int) string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.actions[i]
}

func emptyCert() tls.Certificate { return tls.Certificate{} }
