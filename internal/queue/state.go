package queue

// Phase tracks an item's position in its lifecycle.
type Phase string

const (
	PhaseQueued      Phase = "queued"
	PhaseResolving   Phase = "resolving"
	PhaseFetching    Phase = "fetching"
	PhaseTranscoding Phase = "transcoding"
	PhaseFinalizing  Phase = "finalizing"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
	PhaseCancelled   Phase = "cancelled"
)

// validTransitions defines allowed phase transitions.
// Key is the "from" phase, value is list of valid "to" phases.
// Fetching may go straight to Finalizing when the source's native
// encoding already matches the requested format.
var validTransitions = map[Phase][]Phase{
	PhaseQueued:      {PhaseResolving, PhaseFailed, PhaseCancelled},
	PhaseResolving:   {PhaseFetching, PhaseFailed, PhaseCancelled},
	PhaseFetching:    {PhaseTranscoding, PhaseFinalizing, PhaseFailed, PhaseCancelled},
	PhaseTranscoding: {PhaseFinalizing, PhaseFailed, PhaseCancelled},
	PhaseFinalizing:  {PhaseCompleted, PhaseFailed, PhaseCancelled},
	PhaseCompleted:   {},
	PhaseFailed:      {},
	PhaseCancelled:   {},
}

// CanTransitionTo returns true if transitioning from p to target is valid.
func (p Phase) CanTransitionTo(target Phase) bool {
	valid, ok := validTransitions[p]
	if !ok {
		return false
	}
	for _, v := range valid {
		if v == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this phase has no outgoing transitions.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}
