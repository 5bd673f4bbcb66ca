// seed_afip genera el script SQL que actualiza el catálogo afip_iva_conditions a partir de
// una respuesta guardada de FEParamGetCondicionIvaReceptor (WSFEv1).
//
// Uso: go run ./cmd/seed_afip [ruta/FEParamGetCondicionIvaReceptor.xml]
// Por defecto busca FEParamGetCondicionIvaReceptor.xml en el directorio actual.
// Escribe: internal/infrastructure/postgres/migrations/002_seed_iva_conditions.sql
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	pkgafip "github.com/jhoicas/facturacion-afip/pkg/afip"
)

// Códigos cortos usados por los clientes para referirse a cada condición.
var conditionCodes = map[int]string{
	pkgafip.IVAResponsableInscripto:   "RI",
	pkgafip.IVASujetoExento:           "EX",
	pkgafip.IVAConsumidorFinal:        "CF",
	pkgafip.IVAResponsableMonotributo: "MT",
	pkgafip.IVASujetoNoCategorizado:   "NC",
	pkgafip.IVAProveedorExterior:      "PE",
	pkgafip.IVAClienteExterior:        "CE",
	pkgafip.IVALiberado:               "LIB",
	pkgafip.IVAMonotributistaSocial:   "MTS",
	pkgafip.IVANoAlcanzado:            "NA",
	pkgafip.IVAMonotributoPromovido:   "MTP",
}

type condition struct {
	id          int
	code        string
	description string
}

func main() {
	xmlPath := "FEParamGetCondicionIvaReceptor.xml"
	if len(os.Args) > 1 {
		xmlPath = os.Args[1]
	}
	f, err := os.Open(xmlPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Abrir XML: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	conds, err := parseConditions(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Decodificar XML: %v\n", err)
		os.Exit(1)
	}

	outPath := filepath.Join(findModuleRoot(), "internal", "infrastructure", "postgres", "migrations", "002_seed_iva_conditions.sql")
	out, err := os.Create(outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Crear archivo: %v\n", err)
		os.Exit(1)
	}
	defer out.Close()

	if err := writeSQL(out, conds); err != nil {
		fmt.Fprintf(os.Stderr, "Escribir SQL: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generado %s: %d condiciones IVA\n", outPath, len(conds))
}

// parseConditions lee los <CondicionIvaReceptor> con o sin prefijo de namespace.
func parseConditions(r io.Reader) ([]condition, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		if strings.EqualFold(charset, "ISO-8859-1") || strings.EqualFold(charset, "ISO8859-1") {
			return transform.NewReader(input, charmap.ISO8859_1.NewDecoder()), nil
		}
		return input, nil
	}
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, err
	}

	byID := map[int]condition{}
	for _, el := range doc.FindElements("//CondicionIvaReceptor") {
		idEl, descEl := el.FindElement("./Id"), el.FindElement("./Desc")
		if idEl == nil || descEl == nil {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(idEl.Text()))
		if err != nil || id <= 0 {
			continue
		}
		code, ok := conditionCodes[id]
		if !ok {
			code = "C" + strconv.Itoa(id)
		}
		byID[id] = condition{id: id, code: code, description: strings.TrimSpace(descEl.Text())}
	}
	if len(byID) == 0 {
		return nil, fmt.Errorf("la respuesta no contiene CondicionIvaReceptor")
	}

	out := make([]condition, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out, nil
}

func writeSQL(w io.Writer, conds []condition) error {
	var b strings.Builder
	b.WriteString("-- Condiciones frente al IVA del receptor (RG 5616)\n")
	b.WriteString("-- Generado desde FEParamGetCondicionIvaReceptor (WSFEv1)\n\n")
	b.WriteString("INSERT INTO afip_iva_conditions (id, code, description) VALUES\n")
	for i, c := range conds {
		sep := ","
		if i == len(conds)-1 {
			sep = ""
		}
		fmt.Fprintf(&b, "  (%d, '%s', '%s')%s\n", c.id, escapeSQL(c.code), escapeSQL(c.description), sep)
	}
	b.WriteString("ON CONFLICT (id) DO UPDATE SET description = EXCLUDED.description;\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func escapeSQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func findModuleRoot() string {
	dir, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
