package alerting

import "time"

// AlertState is one plant's escalation state. It is owned by the compliance
// engine and mutated only through Apply.
type AlertState struct {
	PlantID           string    `json:"plant_id"`
	CurrentLevel      Level     `json:"current_level"`
	LastTransition    time.Time `json:"last_transition_time"`
	ActiveViolationID string    `json:"active_violation_id,omitempty"`
	PeakRate          float64   `json:"peak_rate_kg_per_hr"`

	// belowStreak counts consecutive classifications strictly below the
	// current level; it drives confirmed de-escalation.
	belowStreak int
}

// NewAlertState starts a plant at NONE.
func NewAlertState(plantID string) *AlertState {
	return &AlertState{PlantID: plantID, CurrentLevel: LevelNone}
}

// Transition describes the outcome of applying one classified event.
type Transition struct {
	From           Level
	To             Level
	Changed        bool
	OpenViolation  bool
	CloseViolation bool
	AutoShutdown   bool
}

// Apply advances the state machine with one classified event.
//
// Escalation to a strictly higher level commits immediately. De-escalation is
// confirmed: the state steps down one severity after `confirmations`
// consecutive events strictly below the current level, and while that streak
// continues each further event steps down one more level, until the state
// meets the observed classification. Any event at or above the current level
// resets the streak. Reaching NONE closes the episode; entering EMERGENCY
// raises the auto-shutdown signal.
func (s *AlertState) Apply(evt ClassifiedEvent, confirmations int) Transition {
	if confirmations < 1 {
		confirmations = 1
	}
	tr := Transition{From: s.CurrentLevel, To: s.CurrentLevel}

	switch {
	case evt.Level.Rank() > s.CurrentLevel.Rank():
		tr.To = evt.Level
		tr.Changed = true
		tr.OpenViolation = s.CurrentLevel == LevelNone
		tr.AutoShutdown = evt.Level == LevelEmergency
		if tr.OpenViolation {
			s.PeakRate = 0
		}
		s.CurrentLevel = evt.Level
		s.LastTransition = evt.WindowEnd
		s.belowStreak = 0

	case evt.Level == s.CurrentLevel:
		s.belowStreak = 0

	default:
		s.belowStreak++
		if s.belowStreak >= confirmations {
			tr.To = s.CurrentLevel.StepDown()
			tr.Changed = true
			tr.CloseViolation = tr.To == LevelNone
			s.CurrentLevel = tr.To
			s.LastTransition = evt.WindowEnd
			if tr.To == evt.Level {
				s.belowStreak = 0
			}
		}
	}

	if s.CurrentLevel != LevelNone && evt.ObservedRate > s.PeakRate {
		s.PeakRate = evt.ObservedRate
	}
	return tr
}
