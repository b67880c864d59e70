package pet

import (
	"time"

	"petsim/internal/models"
)

// Classifier thresholds on the four core stats (hunger, energy, happiness, cleanliness).
const (
	sick3Below   = 5.0
	sick1Below   = 20.0
	sadHappiness = 25.0
)

// TimeOfDayState derives the activity from the UTC hour:
// [19,24) and [0,5) sleep, [13,16) play, otherwise neutral.
func TimeOfDayState(now time.Time) models.State {
	h := now.UTC().Hour()
	switch {
	case h >= 19 || h < 5:
		return models.StateSleep
	case h >= 13 && h < 16:
		return models.StatePlay
	default:
		return models.StateNeutral
	}
}

// BaseState is the state a tick starts from: sickness and sadness carry over,
// everything else is replaced by the time-of-day activity.
func BaseState(current models.State, now time.Time) models.State {
	if current.IsSick() || current == models.StateSad {
		return current
	}
	return TimeOfDayState(now)
}

// Classify returns the next behavioral state. Rules are evaluated in priority
// order and the first match wins:
//
//  1. all core stats < 5         -> sick3
//  2. any core stat == 0         -> sick2
//  3. all core stats < 20        -> sick1
//  4. happiness < 25 (not sleeping/playing) -> sad
//  5. sleep/play is kept, anything else resolves from the time of day
func Classify(s models.Stats, current models.State, now time.Time) models.State {
	core := [4]float64{s.Hunger, s.Energy, s.Happiness, s.Cleanliness}

	if allBelow(core, sick3Below) {
		return models.StateSick3
	}
	for _, v := range core {
		if v == 0 {
			return models.StateSick2
		}
	}
	if allBelow(core, sick1Below) {
		return models.StateSick1
	}
	if s.Happiness < sadHappiness && !current.IsSpecial() {
		return models.StateSad
	}
	if current.IsSpecial() {
		return current
	}
	return TimeOfDayState(now)
}

func allBelow(vals [4]float64, limit float64) bool {
	for _, v := range vals {
		if v >= limit {
			return false
		}
	}
	return true
}

// Reclassify updates p.State in place and reports whether it changed.
// Hidden pets are left untouched.
func Reclassify(p *models.Pet, now time.Time) bool {
	if p.Hidden() {
		return false
	}
	next := Classify(p.Stats, p.State, now)
	if next == p.State {
		return false
	}
	p.State = next
	return true
}
