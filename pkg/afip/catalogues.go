// Package afip contiene catálogos y validaciones alineados al WSFEv1 de AFIP/ARCA
// (Manual del desarrollador, RG 4291 y RG 5616).
package afip

import "strings"

// =============================================================================
// Tipos de comprobante (FEParamGetTiposCbte)
// Código interno de letra → código numérico de la autoridad.
// =============================================================================

const (
	DocFacturaA     = "FA"
	DocFacturaB     = "FB"
	DocFacturaC     = "FC"
	DocNotaCreditoA = "NCA"
	DocNotaCreditoB = "NCB"
	DocNotaCreditoC = "NCC"
	DocNotaDebitoA  = "NDA"
	DocNotaDebitoB  = "NDB"
	DocNotaDebitoC  = "NDC"
)

var cbteTipoByDoc = map[string]int{
	DocFacturaA:     1,
	DocNotaDebitoA:  2,
	DocNotaCreditoA: 3,
	DocFacturaB:     6,
	DocNotaDebitoB:  7,
	DocNotaCreditoB: 8,
	DocFacturaC:     11,
	DocNotaDebitoC:  12,
	DocNotaCreditoC: 13,
}

// CbteTipo devuelve el código numérico AFIP para un código interno (FA, NCB, ...).
// ok es false si el código no está mapeado.
func CbteTipo(docType string) (code int, ok bool) {
	code, ok = cbteTipoByDoc[strings.ToUpper(strings.TrimSpace(docType))]
	return code, ok
}

// IsCreditOrDebitNote indica si el código AFIP corresponde a una nota de crédito o débito
// (2, 3, 7, 8, 12, 13). Estos comprobantes viajan con importes en valor absoluto y CbtesAsoc.
func IsCreditOrDebitNote(cbteTipo int) bool {
	switch cbteTipo {
	case 2, 3, 7, 8, 12, 13:
		return true
	}
	return false
}

// IsInvoice indica si el código interno es una factura (FA, FB, FC).
func IsInvoice(docType string) bool {
	switch strings.ToUpper(docType) {
	case DocFacturaA, DocFacturaB, DocFacturaC:
		return true
	}
	return false
}

// IsCreditNote indica si el código interno es una nota de crédito (NCA, NCB, NCC).
func IsCreditNote(docType string) bool {
	switch strings.ToUpper(strings.TrimSpace(docType)) {
	case DocNotaCreditoA, DocNotaCreditoB, DocNotaCreditoC:
		return true
	}
	return false
}

// Letter devuelve la letra (A, B o C) de un código interno.
func Letter(docType string) string {
	d := strings.ToUpper(strings.TrimSpace(docType))
	if d == "" {
		return ""
	}
	return d[len(d)-1:]
}

// CreditNoteFor deriva la nota de crédito de una factura: FA→NCA, FB→NCB, FC→NCC.
func CreditNoteFor(docType string) (string, bool) {
	if !IsInvoice(docType) {
		return "", false
	}
	return "NC" + Letter(docType), true
}

// =============================================================================
// Concepto (FEParamGetTiposConcepto)
// =============================================================================

const (
	ConceptoProductos          = 1
	ConceptoServicios          = 2
	ConceptoProductosServicios = 3
)

// =============================================================================
// Tipos de documento del receptor (FEParamGetTiposDoc)
// =============================================================================

const (
	DocTipoCUIT            = 80
	DocTipoCUIL            = 86
	DocTipoCDI             = 87
	DocTipoDNI             = 96
	DocTipoConsumidorFinal = 99
)

// =============================================================================
// Condición frente al IVA del receptor (FEParamGetCondicionIvaReceptor, RG 5616)
// =============================================================================

const (
	IVAResponsableInscripto   = 1
	IVASujetoExento           = 4
	IVAConsumidorFinal        = 5
	IVAResponsableMonotributo = 6
	IVASujetoNoCategorizado   = 7
	IVAProveedorExterior      = 8
	IVAClienteExterior        = 9
	IVALiberado               = 10
	IVAMonotributistaSocial   = 13
	IVANoAlcanzado            = 15
	IVAMonotributoPromovido   = 16
)

// DefaultIVAConditionForDocTipo devuelve la condición IVA por defecto según el tipo de
// documento del receptor: CUIT → Responsable Inscripto; DNI/CUIL/consumidor final → Consumidor Final.
func DefaultIVAConditionForDocTipo(docTipo int) int {
	if docTipo == DocTipoCUIT {
		return IVAResponsableInscripto
	}
	return IVAConsumidorFinal
}

// =============================================================================
// Alícuotas de IVA (FEParamGetTiposIva)
// =============================================================================

const (
	AlicuotaIVA0    = 3
	AlicuotaIVA10_5 = 4
	AlicuotaIVA21   = 5
	AlicuotaIVA27   = 6
	AlicuotaIVA5    = 8
	AlicuotaIVA2_5  = 9
)

// =============================================================================
// Monedas (FEParamGetTiposMonedas)
// =============================================================================

// MonedaPesos es el código de la moneda local.
const MonedaPesos = "PES"

// IsDomesticCurrency indica si el código de moneda corresponde a pesos argentinos.
func IsDomesticCurrency(code string) bool {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "", MonedaPesos, "ARS":
		return true
	}
	return false
}

// =============================================================================
// Códigos de error WSFE de interés
// =============================================================================

// 600 ValidacionDeToken y 601 CUIT no incluida en el token: se resuelven renovando el ticket WSAA.
// 602 ("Sin resultados") no es un error de credenciales.
var tokenErrorCodes = map[int]bool{600: true, 601: true}

// IsTokenError indica si el código de error WSFE se debe a credenciales WSAA inválidas.
func IsTokenError(code int) bool {
	return tokenErrorCodes[code]
}
