package afip_test

import (
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturacion-afip/internal/domain"
	"github.com/jhoicas/facturacion-afip/internal/domain/entity"
	"github.com/jhoicas/facturacion-afip/internal/infrastructure/afip"
	pkgafip "github.com/jhoicas/facturacion-afip/pkg/afip"
)

var testAuth = afip.Auth{Token: "TOKEN", Sign: "SIGN", Cuit: testCUIT}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// facturaB42 es la factura del escenario de autorización: FB 0003-00000042 por 121,00.
func facturaB42() *entity.Invoice {
	return &entity.Invoice{
		ID:                     7,
		DocType:                "FB",
		PointOfSale:            3,
		Number:                 42,
		Date:                   time.Date(2026, 10, 14, 0, 0, 0, 0, art),
		NetTotal:               d("100.00"),
		TaxTotal:               d("21.00"),
		GrossTotal:             d("121.00"),
		ReceiverDocType:        pkgafip.DocTipoDNI,
		ReceiverDocNumber:      "30.123.456",
		ReceiverIVAConditionID: pkgafip.IVAConsumidorFinal,
	}
}

// detReq parsea el envelope y devuelve FECAEDetRequest.
func detReq(t *testing.T, payload []byte) *etree.Element {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(payload))
	det := doc.FindElement(".//FECAEDetRequest")
	require.NotNil(t, det)
	return det
}

func text(t *testing.T, el *etree.Element, path string) string {
	t.Helper()
	e := el.FindElement(path)
	require.NotNil(t, e, path)
	return e.Text()
}

func TestBuildFECAESolicitar_FacturaB(t *testing.T) {
	payload, err := afip.BuildFECAESolicitar(testAuth, facturaB42(), fixedNow)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(payload))
	assert.Equal(t, "TOKEN", doc.FindElement(".//Auth/Token").Text())
	assert.Equal(t, testCUIT, doc.FindElement(".//Auth/Cuit").Text())
	assert.Equal(t, "6", doc.FindElement(".//FeCabReq/CbteTipo").Text())
	assert.Equal(t, "3", doc.FindElement(".//FeCabReq/PtoVta").Text())
	assert.Equal(t, "1", doc.FindElement(".//FeCabReq/CantReg").Text())

	det := detReq(t, payload)
	assert.Equal(t, "1", text(t, det, "Concepto"))
	assert.Equal(t, "96", text(t, det, "DocTipo"))
	assert.Equal(t, "30123456", text(t, det, "DocNro"))
	assert.Equal(t, "42", text(t, det, "CbteDesde"))
	assert.Equal(t, "42", text(t, det, "CbteHasta"))
	assert.Equal(t, "20261014", text(t, det, "CbteFch"))
	assert.Equal(t, "121.00", text(t, det, "ImpTotal"))
	assert.Equal(t, "0.00", text(t, det, "ImpTotConc"))
	assert.Equal(t, "100.00", text(t, det, "ImpNeto"))
	assert.Equal(t, "0.00", text(t, det, "ImpOpEx"))
	assert.Equal(t, "0.00", text(t, det, "ImpTrib"))
	assert.Equal(t, "21.00", text(t, det, "ImpIVA"))
	assert.Equal(t, "PES", text(t, det, "MonId"))
	assert.Equal(t, "1", text(t, det, "MonCotiz"))
	assert.Equal(t, "5", text(t, det, "CondicionIVAReceptorId"))
	assert.Equal(t, "5", text(t, det, "Iva/AlicIva/Id"))
	assert.Equal(t, "100.00", text(t, det, "Iva/AlicIva/BaseImp"))
	assert.Equal(t, "21.00", text(t, det, "Iva/AlicIva/Importe"))
	assert.Nil(t, det.FindElement("CbtesAsoc"), "una factura no lleva comprobantes asociados")
}

func TestBuildFECAESolicitar_OrdenDeCampos(t *testing.T) {
	payload, err := afip.BuildFECAESolicitar(testAuth, facturaB42(), fixedNow)
	require.NoError(t, err)

	var tags []string
	for _, el := range detReq(t, payload).ChildElements() {
		tags = append(tags, el.Tag)
	}
	assert.Equal(t, []string{
		"Concepto", "DocTipo", "DocNro", "CbteDesde", "CbteHasta", "CbteFch",
		"ImpTotal", "ImpTotConc", "ImpNeto", "ImpOpEx", "ImpTrib", "ImpIVA",
		"MonId", "MonCotiz", "CondicionIVAReceptorId", "Iva",
	}, tags)
}

func TestBuildFECAESolicitar_NotaDeCreditoEnValorAbsoluto(t *testing.T) {
	nc := facturaB42()
	nc.DocType = "NCB"
	nc.Number = 5
	nc.NetTotal, nc.TaxTotal, nc.GrossTotal = d("-100.00"), d("-21.00"), d("-121.00")
	nc.AssocDocType, nc.AssocPointOfSale, nc.AssocNumber = "FB", 3, 42

	payload, err := afip.BuildFECAESolicitar(testAuth, nc, fixedNow)
	require.NoError(t, err)

	det := detReq(t, payload)
	assert.Equal(t, "121.00", text(t, det, "ImpTotal"))
	assert.Equal(t, "100.00", text(t, det, "ImpNeto"))
	assert.Equal(t, "21.00", text(t, det, "ImpIVA"))
	assert.Equal(t, "6", text(t, det, "CbtesAsoc/CbteAsoc/Tipo"))
	assert.Equal(t, "3", text(t, det, "CbtesAsoc/CbteAsoc/PtoVta"))
	assert.Equal(t, "42", text(t, det, "CbtesAsoc/CbteAsoc/Nro"))

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(payload))
	assert.Equal(t, "8", doc.FindElement(".//FeCabReq/CbteTipo").Text())
}

func TestBuildFECAESolicitar_AsociadoDesdeNotas(t *testing.T) {
	nc := facturaB42()
	nc.DocType = "NCB"
	nc.Notes = "Anulación.\nNC que anula factura b 0003-00000042"

	payload, err := afip.BuildFECAESolicitar(testAuth, nc, fixedNow)
	require.NoError(t, err)

	det := detReq(t, payload)
	assert.Equal(t, "6", text(t, det, "CbtesAsoc/CbteAsoc/Tipo"))
	assert.Equal(t, "42", text(t, det, "CbtesAsoc/CbteAsoc/Nro"))
}

func TestBuildFECAESolicitar_NotaSinReferenciaOmiteBloque(t *testing.T) {
	nc := facturaB42()
	nc.DocType = "NDB"

	payload, err := afip.BuildFECAESolicitar(testAuth, nc, fixedNow)
	require.NoError(t, err)
	assert.Nil(t, detReq(t, payload).FindElement("CbtesAsoc"))
}

func TestBuildFECAESolicitar_MonedaExtranjera(t *testing.T) {
	inv := facturaB42()
	inv.Currency = "DOL"
	inv.ExchangeRate = d("1045.5")

	payload, err := afip.BuildFECAESolicitar(testAuth, inv, fixedNow)
	require.NoError(t, err)

	det := detReq(t, payload)
	assert.Equal(t, "DOL", text(t, det, "MonId"))
	assert.Equal(t, "1045.500000", text(t, det, "MonCotiz"))
}

func TestBuildFECAESolicitar_ReceptorFaltanteEsConsumidorFinal(t *testing.T) {
	inv := facturaB42()
	inv.ReceiverDocType = 0
	inv.ReceiverDocNumber = ""
	inv.ReceiverIVAConditionID = 0

	payload, err := afip.BuildFECAESolicitar(testAuth, inv, fixedNow)
	require.NoError(t, err)

	det := detReq(t, payload)
	assert.Equal(t, "99", text(t, det, "DocTipo"))
	assert.Equal(t, "0", text(t, det, "DocNro"))
	assert.Nil(t, det.FindElement("CondicionIVAReceptorId"))
}

func TestBuildFECAESolicitar_EscapaCaracteres(t *testing.T) {
	auth := afip.Auth{Token: `a&b<c>"d'`, Sign: "S", Cuit: testCUIT}

	payload, err := afip.BuildFECAESolicitar(auth, facturaB42(), fixedNow)
	require.NoError(t, err)

	assert.Contains(t, string(payload), "a&amp;b&lt;c&gt;&quot;d&apos;")
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(payload))
	assert.Equal(t, `a&b<c>"d'`, doc.FindElement(".//Auth/Token").Text())
}

func TestBuildFECAESolicitar_ValidacionesSinRed(t *testing.T) {
	inv := facturaB42()
	inv.DocType = "XX"
	_, err := afip.BuildFECAESolicitar(testAuth, inv, fixedNow)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	inv = facturaB42()
	inv.PointOfSale = 0
	_, err = afip.BuildFECAESolicitar(testAuth, inv, fixedNow)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	inv = facturaB42()
	inv.Number = 0
	_, err = afip.BuildFECAESolicitar(testAuth, inv, fixedNow)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestFormatDate(t *testing.T) {
	ref := time.Date(2026, 3, 9, 15, 0, 0, 0, art)
	cases := map[string]struct {
		in   any
		want string
	}{
		"time":         {in: time.Date(2026, 1, 2, 0, 0, 0, 0, art), want: "20260102"},
		"puntero":      {in: &ref, want: "20260309"},
		"iso":          {in: "2026-05-31", want: "20260531"},
		"iso con hora": {in: "2026-05-31T10:00:00-03:00", want: "20260531"},
		"dd/mm/aaaa":   {in: "07/08/2026", want: "20260807"},
		"aaaammdd":     {in: "20260807", want: "20260807"},
		"basura":       {in: "mañana", want: "20261015"},
		"cero":         {in: time.Time{}, want: "20261015"},
		"nil":          {in: nil, want: "20261015"},
	}
	for name, tc := range cases {
		assert.Equal(t, tc.want, afip.FormatDate(tc.in, fixedNow), name)
	}
}
