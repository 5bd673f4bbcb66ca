package afip

import (
	"fmt"
	"unicode"
)

// pesos del algoritmo módulo 11 para el dígito verificador de la CUIT/CUIL,
// aplicados a los 10 primeros dígitos de izquierda a derecha.
var cuitWeights = [10]int{5, 4, 3, 2, 7, 6, 5, 4, 3, 2}

// ValidateCUIT valida longitud y dígito verificador de una CUIT/CUIL.
// Acepta "20-12345678-6", "20123456786" o con espacios.
func ValidateCUIT(cuit string) error {
	digits := ExtractDigits(cuit)
	if len(digits) != 11 {
		return fmt.Errorf("afip: la CUIT debe tener 11 dígitos, se encontraron %d", len(digits))
	}
	expected, err := ComputeCUITCheckDigit(digits[:10])
	if err != nil {
		return err
	}
	if digits[10] != expected {
		return fmt.Errorf("afip: dígito verificador de la CUIT inválido: esperado %c, recibido %c", expected, digits[10])
	}
	return nil
}

// ComputeCUITCheckDigit calcula el dígito verificador para los 10 primeros dígitos.
// Resto 11 → 0; resto 10 → 9 (criterio AFIP para CUIT reasignadas).
func ComputeCUITCheckDigit(prefix string) (byte, error) {
	digits := ExtractDigits(prefix)
	if len(digits) < 10 {
		return 0, fmt.Errorf("afip: se requieren 10 dígitos para calcular el verificador, se encontraron %d", len(digits))
	}
	var sum int
	for i := 0; i < 10; i++ {
		sum += int(digits[i]-'0') * cuitWeights[i]
	}
	check := 11 - sum%11
	switch check {
	case 11:
		check = 0
	case 10:
		check = 9
	}
	return byte('0' + check), nil
}

// ExtractDigits elimina todo carácter que no sea dígito.
func ExtractDigits(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsDigit(r) {
			out = append(out, r)
		}
	}
	return string(out)
}
