package entity

import "time"

// MinTicketMargin margen mínimo de seguridad antes del vencimiento del TA.
const MinTicketMargin = 60 * time.Second

// AuthTicket representa un ticket de acceso (TA) vigente del WSAA. Inmutable.
type AuthTicket struct {
	Token      string
	Sign       string
	IssuerCUIT string
	ExpiresAt  time.Time
}

// Usable indica si (now + margin) < ExpiresAt. Un margen menor a 60 s se eleva a 60 s.
func (t *AuthTicket) Usable(now time.Time, margin time.Duration) bool {
	if t == nil || t.Token == "" || t.Sign == "" || t.ExpiresAt.IsZero() {
		return false
	}
	if margin < MinTicketMargin {
		margin = MinTicketMargin
	}
	return now.Add(margin).Before(t.ExpiresAt)
}
