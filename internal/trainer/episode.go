package trainer

import "carbrains/internal/track"

// Episode is one agent's progress on the current track. Times are
// simulated seconds since the track started.
type Episode struct {
	Checkpoint    int     `json:"checkpoint"`
	MaxCheckpoint int     `json:"max_checkpoint"`
	LastAdvance   float64 `json:"last_advance"`
	Finished      bool    `json:"finished"`
	FinishTime    float64 `json:"finish_time,omitempty"`
	Active        bool    `json:"active"`
	Stalled       bool    `json:"stalled"`
}

func (e *Episode) reset() {
	*e = Episode{}
}

func (e *Episode) activate(now float64) {
	e.Active = true
	e.LastAdvance = now
}

func (e *Episode) stall() {
	if e.Active {
		e.Active = false
		e.Stalled = !e.Finished
	}
}

// reach applies a checkpoint trigger. It reports whether the trigger was
// accepted and whether it finished the lap.
func (e *Episode) reach(cp, total int, now float64) (accepted, finished bool) {
	if !e.Active || !track.CanAdvance(e.Checkpoint, cp, total) {
		return false, false
	}
	e.Checkpoint = cp
	if cp > e.MaxCheckpoint {
		e.MaxCheckpoint = cp
		e.LastAdvance = now
	}
	if cp == total {
		e.Finished = true
		e.FinishTime = now
		e.Active = false
		return true, true
	}
	return true, false
}

// timedOut reports whether the agent has gone too long without a new
// best checkpoint.
func (e *Episode) timedOut(now, baseTimeout, leniency float64) bool {
	return e.Active && now-e.LastAdvance > baseTimeout*leniency
}
