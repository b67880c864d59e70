package pet

import (
	"errors"
	"fmt"
	"time"

	"petsim/internal/models"
)

const (
	// LostAfter is how long health must stay at zero before the pet runs away.
	LostAfter = 24 * time.Hour
	// SearchDuration is the minimum search time before a restore attempt resolves.
	SearchDuration = 5 * time.Hour
	// RestoreChance is the percentage of resolved searches that bring the pet back.
	RestoreChance = 75.0
)

var (
	ErrNotLost          = errors.New("pet is not lost")
	ErrSearchNotStarted = errors.New("search has not been started")
)

// TrackHealthZero maintains HealthZeroSince: stamped when health first hits
// zero, cleared once health rises again.
func TrackHealthZero(p *models.Pet, now time.Time) {
	switch {
	case p.Health <= 0 && p.HealthZeroSince == nil:
		t := now
		p.HealthZeroSince = &t
	case p.Health > 0:
		p.HealthZeroSince = nil
	}
}

// BackfillHealthZero seeds HealthZeroSince on a row stored at zero health
// without it, from LastUpdated or else CreatedAt. Call it on a freshly loaded
// row before any stat change. It reports whether the field was set.
func BackfillHealthZero(p *models.Pet) bool {
	if p.Health > 0 || p.HealthZeroSince != nil {
		return false
	}
	since := p.LastUpdated
	if since.IsZero() {
		since = p.CreatedAt
	}
	if since.IsZero() {
		return false
	}
	p.HealthZeroSince = &since
	return true
}

// CheckLost marks p lost when its health has been zero for longer than
// LostAfter. It reports whether the transition happened on this call.
func CheckLost(p *models.Pet, now time.Time) bool {
	if p.IsLost || p.IsDeleted || p.Health > 0 {
		return false
	}
	since := p.LastUpdated
	if p.HealthZeroSince != nil {
		since = *p.HealthZeroSince
	} else if since.IsZero() {
		since = p.CreatedAt
	}
	if now.Sub(since) <= LostAfter {
		return false
	}
	t := now
	p.IsLost = true
	p.LostAt = &t
	return true
}

// StartSearch records the start of an owner's search for a lost pet.
func StartSearch(p *models.Pet, now time.Time) error {
	if !p.IsLost {
		return ErrNotLost
	}
	t := now
	p.SearchStartedAt = &t
	return nil
}

// RestoreOutcome is the result of a restore attempt.
type RestoreOutcome int

const (
	// RestorePending means the search has not run long enough; nothing changed.
	RestorePending RestoreOutcome = iota
	Restored
	GoneForever
)

func (o RestoreOutcome) String() string {
	switch o {
	case RestorePending:
		return "pending"
	case Restored:
		return "restored"
	case GoneForever:
		return "gone_forever"
	default:
		return fmt.Sprintf("RestoreOutcome(%d)", int(o))
	}
}

// RestoreResult describes a restore attempt. Remaining is set only when pending.
type RestoreResult struct {
	Outcome   RestoreOutcome
	Remaining time.Duration
}

// Message is the owner-facing text for the result.
func (r RestoreResult) Message() string {
	switch r.Outcome {
	case RestorePending:
		return fmt.Sprintf("The search is still going. %.1f hours left", r.Remaining.Hours())
	case Restored:
		return "Your pet was found and is back home!"
	default:
		return "Unfortunately, your pet is gone forever..."
	}
}

// Restore resolves a search. roll must be a uniform draw in [0,100); it is
// only consulted once the search has run for SearchDuration. A resolved search
// is final: the search timestamp is cleared either way.
func Restore(p *models.Pet, now time.Time, roll float64) (RestoreResult, error) {
	if !p.IsLost {
		return RestoreResult{}, ErrNotLost
	}
	if p.SearchStartedAt == nil {
		return RestoreResult{}, ErrSearchNotStarted
	}
	elapsed := now.Sub(*p.SearchStartedAt)
	if elapsed < SearchDuration {
		return RestoreResult{Outcome: RestorePending, Remaining: SearchDuration - elapsed}, nil
	}

	p.SearchStartedAt = nil
	p.IsLost = false
	if roll < RestoreChance {
		p.IsDeleted = false
		p.LostAt = nil
		if p.Health < 1 {
			p.Health = 1
		}
		p.HealthZeroSince = nil
		return RestoreResult{Outcome: Restored}, nil
	}
	p.IsDeleted = true
	return RestoreResult{Outcome: GoneForever}, nil
}
