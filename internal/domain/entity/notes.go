package entity

import (
	"fmt"
	"strings"
	"time"
)

// AppendNote agrega line al final de notes separada por un único salto de línea.
// El contenido previo se conserva intacto.
func AppendNote(notes, line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return notes
	}
	if strings.TrimSpace(notes) == "" {
		return line
	}
	return strings.TrimRight(notes, "\n") + "\n" + line
}

// AuthorityAnnotation arma la línea de diagnóstico para un resultado no aprobado:
// "AFIP <resultado> dd/mm/yyyy hh:mm: 10015 - DocNro no válido | ...".
func AuthorityAnnotation(r *AuthorizationResult, at time.Time) string {
	detail := r.DiagnosticLine()
	if detail == "" {
		detail = r.Summary
	}
	return fmt.Sprintf("AFIP %s %s: %s", r.Outcome(), at.Format("02/01/2006 15:04"), detail)
}

// CreditNoteAnnotation arma la nota de una NC: "NC que anula factura B 0003-00000042".
func CreditNoteAnnotation(letter string, pointOfSale int, number int64) string {
	return fmt.Sprintf("NC que anula factura %s %04d-%08d", letter, pointOfSale, number)
}
