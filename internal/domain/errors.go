package domain

import "errors"

// Errores de dominio (sin dependencias externas).
//
// ErrConfiguration y ErrAuthUnavailable impiden cualquier transición de estado y se
// propagan al caller. Los rechazos de la autoridad y los errores de transporte WSFE
// nunca se devuelven como error: quedan en el AuthorizationResult.
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrUnauthorized = errors.New("no autorizado")
	ErrForbidden    = errors.New("acceso denegado")
	ErrConflict     = errors.New("conflicto con el estado actual")

	// ErrConfiguration certificado faltante, tipo de comprobante sin mapeo, entrada de catálogo ausente.
	ErrConfiguration = errors.New("error de configuración fiscal")
	// ErrAuthUnavailable el WSAA no entregó un ticket utilizable.
	ErrAuthUnavailable = errors.New("autenticación WSAA no disponible")
	// ErrAlreadyAuthenticated el WSAA rechazó el login porque ya existe un TA vigente (coe.alreadyAuthenticated).
	ErrAlreadyAuthenticated = errors.New("el WSAA informa un ticket de acceso vigente (coe.alreadyAuthenticated)")
	// ErrInvalidState la operación no admite el estado actual del comprobante.
	ErrInvalidState = errors.New("estado del comprobante inválido para la operación")
)
