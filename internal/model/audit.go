package model

// Audit action types written to the circuit audit table.
const (
	AuditCircuitOpened     = "CIRCUIT_OPENED"
	AuditCircuitHalfOpened = "CIRCUIT_HALF_OPENED"
	AuditCircuitClosed     = "CIRCUIT_CLOSED"
	AuditCircuitReset      = "CIRCUIT_RESET"
)

// AuditAction maps a transition to its audit action type.
func AuditAction(t CircuitTransition) string {
	switch t {
	case TransitionOpened:
		return AuditCircuitOpened
	case TransitionHalfOpened:
		return AuditCircuitHalfOpened
	case TransitionClosed:
		return AuditCircuitClosed
	default:
		return AuditCircuitReset
	}
}
