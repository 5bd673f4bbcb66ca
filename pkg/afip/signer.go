// Package afip: interfaz para la firma CMS/PKCS#7 del LoginTicketRequest (WSAA).

package afip

import (
	"context"
	"crypto/tls"
)

// Signer firma el LoginTicketRequest y devuelve la estructura CMS SignedData.
type Signer interface {
	// SignCMS toma el contenido a firmar y el certificado con llave privada y retorna
	// un CMS attached (el contenido viaja dentro), codificado en DER, sin atributos firmados adicionales.
	SignCMS(ctx context.Context, content []byte, cert tls.Certificate) ([]byte, error)
}

// SignerFunc adapta una función a Signer.
type SignerFunc func(ctx context.Context, content []byte, cert tls.Certificate) ([]byte, error)

// SignCMS implementa Signer.
func (f SignerFunc) SignCMS(ctx context.Context, content []byte, cert tls.Certificate) ([]byte, error) {
	return f(ctx, content, cert)
}
