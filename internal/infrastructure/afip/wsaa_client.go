package afip

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jhoicas/facturacion-afip/internal/domain"
	"github.com/jhoicas/facturacion-afip/internal/domain/entity"
	pkgafip "github.com/jhoicas/facturacion-afip/pkg/afip"
	"github.com/jhoicas/facturacion-afip/pkg/logger"
)

var tracer = otel.Tracer("facturacion-afip/afip")

// WSAAConfig parámetros del cliente WSAA.
type WSAAConfig struct {
	Endpoint string
	Service  string // "wsfe"
	CUIT     string
	Location *time.Location // zona civil del TRA
	Margin   time.Duration  // margen de vencimiento, mínimo 60 s
	Timeout  time.Duration

	HTTPClient *http.Client     // opcional; por defecto NewHTTPClient(Timeout)
	Now        func() time.Time // opcional; por defecto time.Now
	Logger     *logger.Logger
	Observer   Observer
}

// WSAAClient obtiene y cachea el ticket de acceso. Seguro para uso concurrente:
// un único mutex protege el ticket en memoria y serializa los logins.
type WSAAClient struct {
	cfg    WSAAConfig
	cert   tls.Certificate
	signer pkgafip.Signer
	store  CredentialStore
	http   *http.Client
	now    func() time.Time
	log    *logger.Logger
	obs    Observer

	mu           sync.Mutex
	ticket       *entity.AuthTicket
	lastUniqueID int64
}

// NewWSAAClient construye el cliente. store puede ser nil (sin persistencia).
func NewWSAAClient(cfg WSAAConfig, cert tls.Certificate, signer pkgafip.Signer, store CredentialStore) *WSAAClient {
	if cfg.Service == "" {
		cfg.Service = "wsfe"
	}
	if cfg.Margin < entity.MinTicketMargin {
		cfg.Margin = entity.MinTicketMargin
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	c := &WSAAClient{
		cfg:    cfg,
		cert:   cert,
		signer: signer,
		store:  store,
		http:   cfg.HTTPClient,
		now:    cfg.Now,
		log:    logger.OrNop(cfg.Logger).Component("wsaa"),
		obs:    observerOrNop(cfg.Observer),
	}
	if c.http == nil {
		c.http = NewHTTPClient(cfg.Timeout)
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.store == nil {
		c.store = memoryStore{}
	}
	return c
}

// GetAuth devuelve un ticket utilizable. Con forceRenew se ignoran la caché y el disco.
// Los errores se envuelven con domain.ErrAuthUnavailable.
func (c *WSAAClient) GetAuth(ctx context.Context, forceRenew bool) (*entity.AuthTicket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !forceRenew {
		if c.ticket.Usable(now, c.cfg.Margin) {
			c.obs.TicketServed(OutcomeCached)
			return c.ticket, nil
		}
		if t := c.store.Load(); t.Usable(now, c.cfg.Margin) {
			c.log.Debug().Time("expires_at", t.ExpiresAt).Msg("ticket de acceso recuperado del disco")
			c.ticket = t
			c.obs.TicketServed(OutcomeDisk)
			return t, nil
		}
	}

	t, err := c.login(ctx, now)
	if errors.Is(err, domain.ErrAlreadyAuthenticated) {
		// Un solo intento de recuperación desde el disco; no se reintenta el login.
		if disk := c.store.Load(); disk.Usable(c.now(), c.cfg.Margin) {
			c.log.Warn().Msg("WSAA informa ticket vigente; se usa el guardado en disco")
			c.ticket = disk
			c.obs.TicketServed(OutcomeDisk)
			return disk, nil
		}
		return nil, fmt.Errorf("%w: %w. Esperar el vencimiento del ticket vigente (hasta 12 h) o invalidarlo desde el servicio de la AFIP",
			domain.ErrAuthUnavailable, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthUnavailable, err)
	}

	c.ticket = t
	c.store.Save(t)
	c.obs.TicketServed(OutcomeOK)
	c.log.Info().Time("expires_at", t.ExpiresAt).Msg("nuevo ticket de acceso WSAA")
	return t, nil
}

// nextUniqueID devuelve un uniqueId monótono derivado del reloj. Requiere c.mu.
func (c *WSAAClient) nextUniqueID(now time.Time) int64 {
	id := now.Unix()
	if id <= c.lastUniqueID {
		id = c.lastUniqueID + 1
	}
	c.lastUniqueID = id
	return id
}

// login ejecuta el intercambio loginCms completo. Requiere c.mu.
func (c *WSAAClient) login(ctx context.Context, now time.Time) (t *entity.AuthTicket, err error) {
	ctx, span := tracer.Start(ctx, "wsaa.loginCms", trace.WithAttributes(
		attribute.String("afip.service", c.cfg.Service),
		attribute.String("afip.endpoint", c.cfg.Endpoint),
	))
	start := time.Now()
	defer func() {
		outcome := OutcomeOK
		if err != nil {
			outcome = OutcomeError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		c.obs.LoginFinished(outcome, time.Since(start))
		span.End()
	}()

	if len(c.cert.Certificate) == 0 || c.cert.PrivateKey == nil {
		return nil, fmt.Errorf("%w: certificado o llave privada no cargados", domain.ErrConfiguration)
	}

	tra, err := NewLoginTicketRequest(c.nextUniqueID(now), now, c.cfg.Location, c.cfg.Service).Bytes()
	if err != nil {
		return nil, err
	}
	cms, err := c.signer.SignCMS(ctx, tra, c.cert)
	if err != nil {
		return nil, fmt.Errorf("wsaa: firmar TRA: %w", err)
	}

	payload, err := buildLoginCmsEnvelope(base64.StdEncoding.EncodeToString(cms))
	if err != nil {
		return nil, err
	}

	c.log.Debug().Str("endpoint", c.cfg.Endpoint).Msg("solicitando ticket de acceso")
	raw, err := postSOAP(ctx, c.http, c.cfg.Endpoint, "loginCms", "", payload)
	if err != nil {
		// El WSAA responde los SOAP Fault con HTTP 500.
		if len(raw) > 0 {
			if _, ferr := parseLoginCmsResponse(raw, c.cfg.CUIT); errors.Is(ferr, domain.ErrAlreadyAuthenticated) {
				return nil, ferr
			}
		}
		return nil, err
	}
	return parseLoginCmsResponse(raw, c.cfg.CUIT)
}

type loginCmsEnvelope struct {
	XMLName xml.Name     `xml:"soapenv:Envelope"`
	XmlnsS  string       `xml:"xmlns:soapenv,attr"`
	XmlnsW  string       `xml:"xmlns:wsaa,attr"`
	Header  struct{}     `xml:"soapenv:Header"`
	Body    loginCmsBody `xml:"soapenv:Body"`
}

type loginCmsBody struct {
	LoginCms loginCms `xml:"wsaa:loginCms"`
}

type loginCms struct {
	In0 string `xml:"wsaa:in0"`
}

func buildLoginCmsEnvelope(cmsB64 string) ([]byte, error) {
	env := loginCmsEnvelope{
		XmlnsS: soapNS,
		XmlnsW: wsaaNS,
		Body:   loginCmsBody{LoginCms: loginCms{In0: cmsB64}},
	}
	out, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wsaa: serializar envelope: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// memoryStore no persiste nada; se usa cuando no hay CredentialStore configurado.
type memoryStore struct{}

func (memoryStore) Load() *entity.AuthTicket { return nil }
func (memoryStore) Save(*entity.AuthTicket)  {}
