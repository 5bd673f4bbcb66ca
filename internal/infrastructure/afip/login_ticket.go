package afip

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"
)

const (
	ltrGenerationSkew = 5 * time.Minute
	ltrLifetime       = 12 * time.Hour
	// Formato ISO 8601 con offset explícito, p.ej. 2026-10-15T09:55:00-03:00.
	ltrTimeLayout = "2006-01-02T15:04:05-07:00"
)

// LoginTicketRequest datos del TRA. Todos los instantes derivan de una única lectura del reloj.
type LoginTicketRequest struct {
	UniqueID       int64
	GenerationTime time.Time
	ExpirationTime time.Time
	Service        string
}

// NewLoginTicketRequest arma el TRA para now: generación now-5min, expiración now+12h.
func NewLoginTicketRequest(uniqueID int64, now time.Time, loc *time.Location, service string) LoginTicketRequest {
	if loc != nil {
		now = now.In(loc)
	}
	return LoginTicketRequest{
		UniqueID:       uniqueID,
		GenerationTime: now.Add(-ltrGenerationSkew),
		ExpirationTime: now.Add(ltrLifetime),
		Service:        service,
	}
}

// Bytes serializa el TRA en forma canónica (C14N) precedida por la declaración XML.
func (r LoginTicketRequest) Bytes() ([]byte, error) {
	doc := etree.NewDocument()
	root := doc.CreateElement("loginTicketRequest")
	root.CreateAttr("version", "1.0")
	header := root.CreateElement("header")
	header.CreateElement("uniqueId").SetText(strconv.FormatInt(r.UniqueID, 10))
	header.CreateElement("generationTime").SetText(r.GenerationTime.Format(ltrTimeLayout))
	header.CreateElement("expirationTime").SetText(r.ExpirationTime.Format(ltrTimeLayout))
	root.CreateElement("service").SetText(r.Service)

	raw, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("wsaa: serializar TRA: %w", err)
	}
	canonical, err := c14n.Canonicalize(xml.NewDecoder(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("wsaa: canonicalizar TRA: %w", err)
	}
	out := make([]byte, 0, len(canonical)+40)
	out = append(out, `<?xml version="1.0" encoding="UTF-8"?>`...)
	return append(out, canonical...), nil
}
