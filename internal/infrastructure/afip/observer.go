package afip

import "time"

// Resultados informados al Observer.
const (
	OutcomeOK        = "ok"
	OutcomeCached    = "cached"
	OutcomeDisk      = "disk"
	OutcomeApproved  = "approved"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
	OutcomeTransport = "transport_error"
)

// Observer recibe eventos de WSAA y WSFE (métricas). Las implementaciones no deben bloquear.
type Observer interface {
	TicketServed(source string)
	LoginFinished(outcome string, elapsed time.Duration)
	CallFinished(op, outcome string, elapsed time.Duration)
	CAEResult(outcome string)
}

type nopObserver struct{}

func (nopObserver) TicketServed(string)                        {}
func (nopObserver) LoginFinished(string, time.Duration)        {}
func (nopObserver) CallFinished(string, string, time.Duration) {}
func (nopObserver) CAEResult(string)                           {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
