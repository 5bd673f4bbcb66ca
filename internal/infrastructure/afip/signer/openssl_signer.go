package signer

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	pkgafip "github.com/jhoicas/facturacion-afip/pkg/afip"
)

var _ pkgafip.Signer = (*OpenSSLSigner)(nil)

// OpenSSLSigner delega la firma en el binario openssl:
//
//	openssl cms -sign -signer cert.pem -inkey key.pem -nodetach -binary -noattr -outform DER -md sha256
//
// El contenido entra por stdin y el CMS sale por stdout. Certificado y llave se escriben
// en un directorio temporal con permisos 0600 que se borra al terminar.
type OpenSSLSigner struct {
	bin     string
	timeout time.Duration
}

// NewOpenSSLSigner crea el firmador externo. bin vacío usa "openssl" del PATH.
func NewOpenSSLSigner(bin string, timeout time.Duration) *OpenSSLSigner {
	if bin == "" {
		bin = "openssl"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenSSLSigner{bin: bin, timeout: timeout}
}

// SignCMS implementa pkg/afip.Signer.
func (s *OpenSSLSigner) SignCMS(ctx context.Context, content []byte, cert tls.Certificate) ([]byte, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("cms: contenido vacío")
	}
	if len(cert.Certificate) == 0 || cert.PrivateKey == nil {
		return nil, fmt.Errorf("cms: certificado o llave privada faltantes")
	}

	dir, err := os.MkdirTemp("", "afip-cms-*")
	if err != nil {
		return nil, fmt.Errorf("cms: directorio temporal: %w", err)
	}
	defer os.RemoveAll(dir)

	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	if err := writePEM(certPath, "CERTIFICATE", cert.Certificate[0]); err != nil {
		return nil, err
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("cms: serializar llave: %w", err)
	}
	if err := writePEM(keyPath, "PRIVATE KEY", keyDER); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.bin, "cms", "-sign",
		"-signer", certPath, "-inkey", keyPath,
		"-nodetach", "-binary", "-noattr", "-outform", "DER", "-md", "sha256")
	cmd.Stdin = bytes.NewReader(content)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("cms: %s: %w: %s", s.bin, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("cms: %s no devolvió salida", s.bin)
	}
	return stdout.Bytes(), nil
}

func writePEM(path, blockType string, der []byte) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cms: escribir %s: %w", filepath.Base(path), err)
	}
	return nil
}
