package afip_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturacion-afip/pkg/afip"
)

func TestCbteTipo_TablaCompleta(t *testing.T) {
	expected := map[string]int{
		"FA": 1, "FB": 6, "FC": 11,
		"NCA": 3, "NCB": 8, "NCC": 13,
		"NDA": 2, "NDB": 7, "NDC": 12,
	}
	for doc, code := range expected {
		got, ok := afip.CbteTipo(doc)
		require.True(t, ok, "el código %s debe estar mapeado", doc)
		assert.Equal(t, code, got, "código AFIP para %s", doc)
	}
}

func TestCbteTipo_CodigoDesconocido(t *testing.T) {
	_, ok := afip.CbteTipo("FX")
	assert.False(t, ok)
	_, ok = afip.CbteTipo("")
	assert.False(t, ok)
}

func TestCbteTipo_ToleraMinusculasYEspacios(t *testing.T) {
	got, ok := afip.CbteTipo(" fb ")
	require.True(t, ok)
	assert.Equal(t, 6, got)
}

func TestIsCreditOrDebitNote(t *testing.T) {
	for _, code := range []int{2, 3, 7, 8, 12, 13} {
		assert.True(t, afip.IsCreditOrDebitNote(code), "código %d", code)
	}
	for _, code := range []int{1, 6, 11, 0, 99} {
		assert.False(t, afip.IsCreditOrDebitNote(code), "código %d", code)
	}
}

func TestCreditNoteFor(t *testing.T) {
	nc, ok := afip.CreditNoteFor("FB")
	require.True(t, ok)
	assert.Equal(t, "NCB", nc)

	_, ok = afip.CreditNoteFor("NCB")
	assert.False(t, ok, "una nota de crédito no tiene nota de crédito derivada")
}

func TestIsCreditNote(t *testing.T) {
	for _, doc := range []string{"NCA", "ncb", " NCC "} {
		assert.True(t, afip.IsCreditNote(doc), doc)
	}
	for _, doc := range []string{"FB", "NDB", ""} {
		assert.False(t, afip.IsCreditNote(doc), doc)
	}
}

func TestDefaultIVAConditionForDocTipo(t *testing.T) {
	assert.Equal(t, afip.IVAResponsableInscripto, afip.DefaultIVAConditionForDocTipo(afip.DocTipoCUIT))
	assert.Equal(t, afip.IVAConsumidorFinal, afip.DefaultIVAConditionForDocTipo(afip.DocTipoDNI))
	assert.Equal(t, afip.IVAConsumidorFinal, afip.DefaultIVAConditionForDocTipo(afip.DocTipoConsumidorFinal))
}

func TestValidateCUIT(t *testing.T) {
	assert.NoError(t, afip.ValidateCUIT("20-12345678-6"))
	assert.NoError(t, afip.ValidateCUIT("33693450239"), "CUIT de la propia AFIP")
	assert.Error(t, afip.ValidateCUIT("20-12345678-5"), "dígito verificador incorrecto")
	assert.Error(t, afip.ValidateCUIT("2012345678"), "faltan dígitos")
}

func TestIsDomesticCurrency(t *testing.T) {
	assert.True(t, afip.IsDomesticCurrency(""))
	assert.True(t, afip.IsDomesticCurrency("PES"))
	assert.True(t, afip.IsDomesticCurrency("ars"))
	assert.False(t, afip.IsDomesticCurrency("DOL"))
}

func TestIsTokenError(t *testing.T) {
	assert.True(t, afip.IsTokenError(600))
	assert.True(t, afip.IsTokenError(601))
	assert.False(t, afip.IsTokenError(602), "602 = sin resultados")
	assert.False(t, afip.IsTokenError(10015))
}
