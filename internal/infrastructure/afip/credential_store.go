package afip

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/jhoicas/facturacion-afip/internal/domain/entity"
	"github.com/jhoicas/facturacion-afip/pkg/logger"
)

// CredentialStore persiste el ticket de acceso entre reinicios del proceso.
// Load devuelve nil si no hay ticket legible; Save nunca falla hacia el caller.
type CredentialStore interface {
	Load() *entity.AuthTicket
	Save(ticket *entity.AuthTicket)
}

// FileCredentialStore guarda el TA como un XML chico:
//
//	<credentials><token/><sign/><expires_at/><cuit/></credentials>
//
// La escritura es atómica (archivo temporal en el mismo directorio + rename).
type FileCredentialStore struct {
	path string
	log  *logger.Logger
}

// NewFileCredentialStore construye el store sobre path. log puede ser nil.
func NewFileCredentialStore(path string, log *logger.Logger) *FileCredentialStore {
	return &FileCredentialStore{path: path, log: logger.OrNop(log).Component("credential_store")}
}

// Path devuelve la ruta del archivo.
func (s *FileCredentialStore) Path() string { return s.path }

// Load lee el último ticket guardado. Archivo ausente o malformado → nil.
func (s *FileCredentialStore) Load() *entity.AuthTicket {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", s.path).Msg("no se pudo leer el ticket de acceso")
		}
		return nil
	}
	ticket, err := decodeTicket(data)
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("ticket de acceso malformado, se ignora")
		return nil
	}
	return ticket
}

// Save persiste el ticket. Los errores se registran y se descartan.
func (s *FileCredentialStore) Save(ticket *entity.AuthTicket) {
	if ticket == nil {
		return
	}
	if err := s.write(ticket); err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("no se pudo guardar el ticket de acceso")
	}
}

func (s *FileCredentialStore) write(ticket *entity.AuthTicket) error {
	data, err := encodeTicket(ticket)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("crear directorio: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ta-*.tmp")
	if err != nil {
		return fmt.Errorf("crear temporal: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("escribir temporal: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temporal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cerrar temporal: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("permisos temporal: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func encodeTicket(t *entity.AuthTicket) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("credentials")
	root.CreateElement("token").SetText(t.Token)
	root.CreateElement("sign").SetText(t.Sign)
	root.CreateElement("expires_at").SetText(t.ExpiresAt.Format(time.RFC3339))
	if t.IssuerCUIT != "" {
		root.CreateElement("cuit").SetText(t.IssuerCUIT)
	}
	doc.Indent(2)
	return doc.WriteToBytes()
}

func decodeTicket(data []byte) (*entity.AuthTicket, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, err
	}
	root := doc.SelectElement("credentials")
	if root == nil {
		return nil, fmt.Errorf("falta <credentials>")
	}
	text := func(tag string) string {
		if el := root.SelectElement(tag); el != nil {
			return strings.TrimSpace(el.Text())
		}
		return ""
	}
	token, sign, exp := text("token"), text("sign"), text("expires_at")
	if token == "" || sign == "" || exp == "" {
		return nil, fmt.Errorf("faltan token, sign o expires_at")
	}
	expiresAt, err := parseAuthorityTime(exp)
	if err != nil {
		return nil, fmt.Errorf("expires_at: %w", err)
	}
	return &entity.AuthTicket{Token: token, Sign: sign, IssuerCUIT: text("cuit"), ExpiresAt: expiresAt}, nil
}

// parseAuthorityTime acepta ISO 8601 con offset, con o sin fracciones de segundo.
func parseAuthorityTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000-07:00", ltrTimeLayout} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("fecha inválida %q", s)
}
