package domain

// ConnectionPhase tracks one peer connection through its lifecycle. Phases
// only move forward; failure phases are terminal for that peer (a retry is
// always a fresh attempt with a new ListenerID).
type ConnectionPhase string

const (
	PhaseIdle          ConnectionPhase = "idle"
	PhaseOfferSent     ConnectionPhase = "offer-sent"
	PhaseOfferReceived ConnectionPhase = "offer-received"
	PhaseAnswerPending ConnectionPhase = "answer-pending"
	PhaseNegotiating   ConnectionPhase = "negotiating"
	PhaseConnected     ConnectionPhase = "connected"
	PhaseDisconnected  ConnectionPhase = "disconnected"
	PhaseFailed        ConnectionPhase = "failed"
	PhaseClosed        ConnectionPhase = "closed"
)

// Terminal reports whether no further transitions are allowed from p.
func (p ConnectionPhase) Terminal() bool {
	return p == PhaseClosed || p == PhaseFailed
}
