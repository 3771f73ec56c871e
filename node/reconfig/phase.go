package reconfig

import "meshnode/internal/check"

// Phase is one ordered step of a reconfiguration.
type Phase uint8

const (
	PhaseGather Phase = iota
	PhaseStopCollector
	PhaseStopManagers
	PhaseShutdown
	PhaseInitialize
	PhaseStartCollector
	PhaseStartManagers
)

// Phases lists every phase in execution order.
var Phases = []Phase{
	PhaseGather,
	PhaseStopCollector,
	PhaseStopManagers,
	PhaseShutdown,
	PhaseInitialize,
	PhaseStartCollector,
	PhaseStartManagers,
}

func (p Phase) String() string {
	switch p {
	case PhaseGather:
		return "gather"
	case PhaseStopCollector:
		return "stop_collector"
	case PhaseStopManagers:
		return "stop_managers"
	case PhaseShutdown:
		return "shutdown"
	case PhaseInitialize:
		return "initialize"
	case PhaseStartCollector:
		return "start_collector"
	case PhaseStartManagers:
		return "start_managers"
	default:
		check.Assertf(false, "unknown reconfig phase: %d", p)
		return "unknown"
	}
}

// Fatal reports whether a failure in p decides the result of the call.
func (p Phase) Fatal() bool {
	return p == PhaseShutdown || p == PhaseInitialize
}
