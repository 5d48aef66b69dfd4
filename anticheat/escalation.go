package anticheat

import "driftserver/game"

// Event drives a player's standing.
type Event int

const (
	EventAccepted Event = iota
	EventViolated
	EventThresholdReached
)

// Transitions is the escalation table. Kicked is absorbing.
var Transitions = map[game.Standing]map[Event]game.Standing{
	game.StandingNormal: {
		EventAccepted:         game.StandingNormal,
		EventViolated:         game.StandingWarned,
		EventThresholdReached: game.StandingKicked,
	},
	game.StandingWarned: {
		EventAccepted:         game.StandingNormal,
		EventViolated:         game.StandingWarned,
		EventThresholdReached: game.StandingKicked,
	},
	game.StandingKicked: {
		EventAccepted:         game.StandingKicked,
		EventViolated:         game.StandingKicked,
		EventThresholdReached: game.StandingKicked,
	},
}

// NextStanding returns the standing reached from s on ev. Unknown pairs keep s.
func NextStanding(s game.Standing, ev Event) game.Standing {
	if next, ok := Transitions[s][ev]; ok {
		return next
	}
	return s
}
