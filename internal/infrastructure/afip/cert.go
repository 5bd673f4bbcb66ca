package afip

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pkcs12"

	"github.com/jhoicas/facturacion-afip/internal/domain"
)

// LoadCertificate carga el certificado X.509 y la llave privada del emisor.
//   - .p12/.pfx: PKCS#12, passphrase es la contraseña del contenedor.
//   - PEM: certificado y llave por separado o combinados en certPath; la llave puede
//     estar cifrada (Proc-Type: 4,ENCRYPTED) con passphrase.
//
// Todo error se envuelve con domain.ErrConfiguration.
func LoadCertificate(certPath, keyPath, passphrase string) (tls.Certificate, error) {
	if strings.TrimSpace(certPath) == "" {
		return tls.Certificate{}, fmt.Errorf("%w: ruta del certificado vacía", domain.ErrConfiguration)
	}
	switch strings.ToLower(filepath.Ext(certPath)) {
	case ".p12", ".pfx":
		return loadFromP12(certPath, passphrase)
	}
	return loadFromPEM(certPath, keyPath, passphrase)
}

func loadFromP12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: leer p12: %v", domain.ErrConfiguration, err)
	}
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: decodificar p12: %v", domain.ErrConfiguration, err)
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  priv,
		Leaf:        cert,
	}, nil
}

func loadFromPEM(certPath, keyPath, passphrase string) (tls.Certificate, error) {
	if keyPath == "" {
		keyPath = certPath
	}
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: leer certificado: %v", domain.ErrConfiguration, err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: leer llave privada: %v", domain.ErrConfiguration, err)
	}
	if passphrase != "" {
		if keyPEM, err = decryptKeyPEM(keyPEM, passphrase); err != nil {
			return tls.Certificate{}, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
		}
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: cargar PEM: %v", domain.ErrConfiguration, err)
	}
	if cert.Leaf == nil {
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
			cert.Leaf = leaf
		}
	}
	return cert, nil
}

// decryptKeyPEM descifra la llave privada si viene cifrada con el formato PEM heredado.
// Los bloques sin cifrar se devuelven tal cual.
func decryptKeyPEM(data []byte, passphrase string) ([]byte, error) {
	var out []byte
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if !strings.Contains(block.Type, "PRIVATE KEY") {
			continue
		}
		//nolint:staticcheck // RFC 1423
		if x509.IsEncryptedPEMBlock(block) {
			der, err := x509.DecryptPEMBlock(block, []byte(passphrase))
			if err != nil {
				return nil, fmt.Errorf("descifrar llave privada: %w", err)
			}
			block = &pem.Block{Type: block.Type, Bytes: der}
		}
		out = append(out, pem.EncodeToMemory(block)...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no se encontró una llave privada PEM")
	}
	return out, nil
}
