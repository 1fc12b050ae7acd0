package track

import "fmt"

// Phase is the tracker's state-machine position. The forward pass must
// complete before the backward correction pass may start; the phase
// ordering enforces that.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunningForward
	PhaseDoneForward
	PhaseRunningBackward
	PhaseDoneBackward
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunningForward:
		return "running-forward"
	case PhaseDoneForward:
		return "done-forward"
	case PhaseRunningBackward:
		return "running-backward"
	case PhaseDoneBackward:
		return "done-backward"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}
