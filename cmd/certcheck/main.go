// certcheck verifica el certificado y la llave configurados para el WSAA sin tocar la red.
//
// Uso: go run ./cmd/certcheck [-cert ruta] [-key ruta] [-pass clave] [-sign]
// Sin flags toma AFIP_CERT_PATH, AFIP_KEY_PATH y AFIP_KEY_PASSPHRASE del entorno (.env).
// Con -sign arma y firma un LoginTicketRequest con el firmante configurado (AFIP_SIGNER).
package main

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jhoicas/facturacion-afip/internal/infrastructure/afip"
	"github.com/jhoicas/facturacion-afip/internal/infrastructure/afip/signer"
	pkgafip "github.com/jhoicas/facturacion-afip/pkg/afip"
	"github.com/jhoicas/facturacion-afip/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fail("cargar configuración", err)
	}

	certPath := flag.String("cert", cfg.AFIP.CertPath, "certificado X.509 (PEM) o .p12")
	keyPath := flag.String("key", cfg.AFIP.KeyPath, "llave privada PEM (vacío para .p12 o PEM combinado)")
	pass := flag.String("pass", cfg.AFIP.KeyPassphrase, "passphrase de la llave o contraseña del .p12")
	sign := flag.Bool("sign", false, "firmar un LoginTicketRequest de prueba")
	flag.Parse()

	fmt.Println("DIAGNÓSTICO DE CERTIFICADO AFIP")
	fmt.Println("-------------------------------")
	fmt.Printf("Certificado: %s\n", *certPath)
	if *keyPath != "" {
		fmt.Printf("Llave:       %s\n", *keyPath)
	}

	cert, err := afip.LoadCertificate(*certPath, *keyPath, *pass)
	if err != nil {
		fail("cargar certificado", err)
	}
	leaf := cert.Leaf
	if leaf == nil {
		if leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			fail("interpretar certificado", err)
		}
	}

	now := time.Now()
	fmt.Printf("\nSujeto:      %s\n", leaf.Subject.String())
	fmt.Printf("Emisor:      %s\n", leaf.Issuer.String())
	fmt.Printf("Serie:       %s\n", leaf.SerialNumber.String())
	fmt.Printf("Vigencia:    %s → %s\n", leaf.NotBefore.Format(time.DateTime), leaf.NotAfter.Format(time.DateTime))
	switch {
	case now.Before(leaf.NotBefore):
		fmt.Println("Estado:      todavía no vigente")
	case now.After(leaf.NotAfter):
		fmt.Println("Estado:      VENCIDO")
	default:
		fmt.Printf("Estado:      vigente (%d días restantes)\n", int(leaf.NotAfter.Sub(now).Hours()/24))
	}

	// La autoridad emite el certificado con "CUIT <número>" en el serialNumber del sujeto.
	if cuit := pkgafip.ExtractDigits(strings.TrimPrefix(leaf.Subject.SerialNumber, "CUIT")); cuit != "" {
		status := "dígito verificador OK"
		if err := pkgafip.ValidateCUIT(cuit); err != nil {
			status = err.Error()
		}
		fmt.Printf("CUIT:        %s (%s)\n", cuit, status)
		if cfg.AFIP.CUIT != "" && cfg.AFIP.CUIT != cuit {
			fmt.Printf("AVISO:       AFIP_CUIT=%s no coincide con el certificado\n", cfg.AFIP.CUIT)
		}
	}

	if !*sign {
		return
	}

	var s pkgafip.Signer = signer.NewPKCS7Signer()
	if cfg.AFIP.Signer == "openssl" {
		s = signer.NewOpenSSLSigner(cfg.AFIP.OpenSSLBin, cfg.AFIP.HTTPTimeout)
	}
	tra, err := afip.NewLoginTicketRequest(now.Unix(), now, cfg.AFIP.Location(), cfg.AFIP.Service).Bytes()
	if err != nil {
		fail("armar LoginTicketRequest", err)
	}
	cms, err := s.SignCMS(context.Background(), tra, cert)
	if err != nil {
		fail("firmar LoginTicketRequest ("+cfg.AFIP.Signer+")", err)
	}
	fmt.Printf("\nFirma CMS (%s): %d bytes DER, %d caracteres base64\n",
		cfg.AFIP.Signer, len(cms), len(base64.StdEncoding.EncodeToString(cms)))
	fmt.Println("El certificado y la llave están listos para el WSAA.")
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "\nERROR al %s: %v\n", step, err)
	os.Exit(1)
}
