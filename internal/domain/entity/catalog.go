package entity

// IVACondition condición frente al IVA del receptor (tabla afip_iva_conditions).
// ID coincide con el código numérico de FEParamGetCondicionIvaReceptor.
type IVACondition struct {
	ID          int    `db:"id"`
	Code        string `db:"code"`
	Description string `db:"description"`
}

// PointOfSale punto de venta habilitado ante la autoridad.
type PointOfSale struct {
	Number      int    `db:"number"`
	Enabled     bool   `db:"enabled"`
	Description string `db:"description"`
}
