package afip

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	soapNS         = "http://schemas.xmlsoap.org/soap/envelope/"
	wsfeNS         = "http://ar.gov.afip.dif.FEV1/"
	wsaaNS         = "http://wsaa.view.sua.dvadac.desein.afip.gov"
	contentTypeXML = "text/xml; charset=utf-8"

	// DefaultTimeout timeout de red para WSAA y WSFE.
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 1 << 20 // 1 MB
	maxSummaryRunes  = 300
)

// TransportError falla de transporte contra WSAA/WSFE: HTTP no-2xx, conexión o timeout.
type TransportError struct {
	Op         string
	StatusCode int    // 0 si no hubo respuesta HTTP
	Body       string // resumen del cuerpo recibido
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op + ": error de transporte"
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError indica si err es (o envuelve) un TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// NewHTTPClient construye el cliente HTTP usado para WSAA y WSFE.
//
// Los servidores de la autoridad todavía negocian suites con intercambio de claves RSA y
// CBC, que crypto/tls excluye de su lista por defecto desde Go 1.22. Go no tiene el
// "SECLEVEL" de OpenSSL: el nivel se baja explícitamente habilitando TLS 1.0 como mínimo y
// enumerando las suites heredadas. Go no implementa DHE, así que el error "dh key too small"
// de OpenSSL no aplica. Los cambios afectan solo a este cliente.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = legacyTLSConfig()
	return &http.Client{Timeout: timeout, Transport: transport}
}

func legacyTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS10,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
			tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
			tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_RSA_WITH_AES_128_CBC_SHA,
			tls.TLS_RSA_WITH_AES_256_CBC_SHA,
			tls.TLS_RSA_WITH_3DES_EDE_CBC_SHA,
		},
	}
}

// postSOAP envía payload como SOAP 1.1 y devuelve el cuerpo (máx. 1 MB).
// Cualquier respuesta no-2xx o falla de red se devuelve como *TransportError.
// Un SOAP Fault con HTTP 500 también es TransportError; el caller puede inspeccionar Body.
func postSOAP(ctx context.Context, client *http.Client, url, op, action string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("soap: crear request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeXML)
	req.Header.Set("SOAPAction", action)

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &TransportError{Op: op, Err: fmt.Errorf("timeout o cancelación: %w", ctx.Err())}
		}
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("leer respuesta: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return raw, &TransportError{Op: op, StatusCode: resp.StatusCode, Body: Summarize(raw)}
	}
	return raw, nil
}

// Summarize compacta un cuerpo de respuesta (HTML, texto) a una línea legible.
func Summarize(raw []byte) string {
	s := string(raw)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "?")
	}
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > maxSummaryRunes {
		r := []rune(s)
		s = string(r[:maxSummaryRunes]) + "…"
	}
	if s == "" {
		return "(respuesta vacía)"
	}
	return s
}

// escapeXML escapa &, <, >, " y ' para valores insertados en el envelope.
func escapeXML(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&apos;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
