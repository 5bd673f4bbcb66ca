package postgres

// Acceso a los builders de consultas desde los tests externos.
var (
	ListByStatesQuery = listByStatesQuery
	LockInvoiceQuery  = lockInvoiceQuery
	LockIssuedQuery   = lockIssuedQuery
	ByAssocQuery      = byAssociationQuery
	NextNumberSQL     = nextNumberSQL
)
