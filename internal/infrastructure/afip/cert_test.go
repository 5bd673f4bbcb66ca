package afip_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturacion-afip/internal/domain"
	"github.com/jhoicas/facturacion-afip/internal/infrastructure/afip"
)

// writeCertPair genera un par autofirmado y lo escribe como PEM.
// Si passphrase no es vacío la llave se cifra con el formato PEM heredado.
func writeCertPair(t *testing.T, dir, passphrase string) (certPath, keyPath string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "facturacion", SerialNumber: "CUIT " + testCUIT},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "cert.crt")
	keyPath = filepath.Join(dir, "cert.key")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))

	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if passphrase != "" {
		//nolint:staticcheck // RFC 1423
		block, err = x509.EncryptPEMBlock(rand.Reader, block.Type, block.Bytes, []byte(passphrase), x509.PEMCipherAES256)
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))
	return certPath, keyPath
}

func TestLoadCertificate_PEM(t *testing.T) {
	certPath, keyPath := writeCertPair(t, t.TempDir(), "")

	cert, err := afip.LoadCertificate(certPath, keyPath, "")

	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)
	assert.Equal(t, "CUIT "+testCUIT, cert.Leaf.Subject.SerialNumber)
	assert.NotNil(t, cert.PrivateKey)
}

func TestLoadCertificate_LlaveCifrada(t *testing.T) {
	certPath, keyPath := writeCertPair(t, t.TempDir(), "secreto")

	_, err := afip.LoadCertificate(certPath, keyPath, "secreto")
	require.NoError(t, err)

	_, err = afip.LoadCertificate(certPath, keyPath, "otra")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestLoadCertificate_Errores(t *testing.T) {
	_, err := afip.LoadCertificate("", "", "")
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = afip.LoadCertificate(filepath.Join(t.TempDir(), "no.pem"), "", "")
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	p12 := filepath.Join(t.TempDir(), "cert.p12")
	require.NoError(t, os.WriteFile(p12, []byte("no es pkcs12"), 0o600))
	_, err = afip.LoadCertificate(p12, "", "x")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "<html> <body>Error</body> </html>", afip.Summarize([]byte("<html>\n  <body>Error</body>\n</html>")))
	assert.Equal(t, "(respuesta vacía)", afip.Summarize(nil))
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'a'
	}
	assert.Equal(t, 301, len([]rune(afip.Summarize(long))))
}
