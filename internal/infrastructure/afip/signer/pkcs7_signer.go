// Package signer implementa la firma CMS/PKCS#7 del LoginTicketRequest del WSAA.
package signer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"go.mozilla.org/pkcs7"

	pkgafip "github.com/jhoicas/facturacion-afip/pkg/afip"
)

var _ pkgafip.Signer = (*PKCS7Signer)(nil)

// PKCS7Signer firma en proceso: SignedData attached, SHA-256, sin atributos firmados, DER.
type PKCS7Signer struct{}

// NewPKCS7Signer crea el firmador nativo.
func NewPKCS7Signer() *PKCS7Signer {
	return &PKCS7Signer{}
}

// SignCMS implementa pkg/afip.Signer.
func (s *PKCS7Signer) SignCMS(_ context.Context, content []byte, cert tls.Certificate) ([]byte, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("cms: contenido vacío")
	}
	leaf, err := leafCertificate(cert)
	if err != nil {
		return nil, err
	}
	if cert.PrivateKey == nil {
		return nil, fmt.Errorf("cms: el certificado no incluye llave privada")
	}

	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, fmt.Errorf("cms: inicializar SignedData: %w", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.SignWithoutAttr(leaf, cert.PrivateKey, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("cms: firmar: %w", err)
	}
	der, err := sd.Finish()
	if err != nil {
		return nil, fmt.Errorf("cms: codificar DER: %w", err)
	}
	return der, nil
}

func leafCertificate(cert tls.Certificate) (*x509.Certificate, error) {
	if cert.Leaf != nil {
		return cert.Leaf, nil
	}
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("cms: certificado vacío")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("cms: parsear certificado: %w", err)
	}
	return leaf, nil
}
