package pet

import (
	"math"

	"petsim/internal/models"
)

// MaxExperience bounds the experience counter.
const MaxExperience int64 = 2147483647

// Clamp bounds v to [0,100].
func Clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Delta is a signed change to a pet's stats. Nil fields are left alone.
type Delta struct {
	Hunger      *float64 `json:"hunger,omitempty"`
	Energy      *float64 `json:"energy,omitempty"`
	Happiness   *float64 `json:"happiness,omitempty"`
	Cleanliness *float64 `json:"cleanliness,omitempty"`
	Health      *float64 `json:"health,omitempty"`
	Experience  *int64   `json:"experience,omitempty"`
}

// ApplyDelta adds d to p, clamping every stat to [0,100] and experience to [0,MaxExperience].
func ApplyDelta(p *models.Pet, d Delta) {
	add := func(dst *float64, v *float64) {
		if v != nil {
			*dst = Round1(Clamp(*dst + *v))
		}
	}
	add(&p.Hunger, d.Hunger)
	add(&p.Energy, d.Energy)
	add(&p.Happiness, d.Happiness)
	add(&p.Cleanliness, d.Cleanliness)
	add(&p.Health, d.Health)
	if d.Experience != nil {
		xp := p.Experience + *d.Experience
		if xp < 0 {
			xp = 0
		}
		if xp > MaxExperience {
			xp = MaxExperience
		}
		p.Experience = xp
	}
}

// Chance is a delta with an alternative outcome: when a draw in [0,100) falls
// below Chance, Variant is used instead of Delta.
type Chance[T int64 | float64] struct {
	Delta   T       `json:"delta"`
	Chance  float64 `json:"chance"`
	Variant *T      `json:"variant,omitempty"`
}

func (c *Chance[T]) resolve(draw func() float64) *T {
	if c == nil {
		return nil
	}
	v := c.Delta
	if c.Variant != nil && draw() < c.Chance {
		v = *c.Variant
	}
	return &v
}

// ChanceDelta is the probabilistic form of Delta.
type ChanceDelta struct {
	Hunger      *Chance[float64] `json:"hunger,omitempty"`
	Energy      *Chance[float64] `json:"energy,omitempty"`
	Happiness   *Chance[float64] `json:"happiness,omitempty"`
	Cleanliness *Chance[float64] `json:"cleanliness,omitempty"`
	Health      *Chance[float64] `json:"health,omitempty"`
	Experience  *Chance[int64]   `json:"experience,omitempty"`
}

// Resolve draws once per present field (draw returns values in [0,100)) and
// returns the concrete delta.
func (c ChanceDelta) Resolve(draw func() float64) Delta {
	return Delta{
		Hunger:      c.Hunger.resolve(draw),
		Energy:      c.Energy.resolve(draw),
		Happiness:   c.Happiness.resolve(draw),
		Cleanliness: c.Cleanliness.resolve(draw),
		Health:      c.Health.resolve(draw),
		Experience:  c.Experience.resolve(draw),
	}
}

// InitialStats returns the starting stats for a newly created pet of character c.
func InitialStats(c models.Character) models.Stats {
	switch c {
	case models.CharacterPlayful:
		return models.Stats{Hunger: 40, Energy: 80, Happiness: 70, Cleanliness: 60, Health: 100}
	case models.CharacterLazy:
		return models.Stats{Hunger: 50, Energy: 90, Happiness: 50, Cleanliness: 40, Health: 100}
	case models.CharacterEnergetic:
		return models.Stats{Hunger: 30, Energy: 100, Happiness: 60, Cleanliness: 70, Health: 100}
	case models.CharacterCurious:
		return models.Stats{Hunger: 60, Energy: 60, Happiness: 60, Cleanliness: 50, Health: 100}
	case models.CharacterShy:
		return models.Stats{Hunger: 70, Energy: 40, Happiness: 40, Cleanliness: 45, Health: 100}
	default:
		return models.Stats{Hunger: 50, Energy: 50, Happiness: 50, Cleanliness: 50, Health: 100}
	}
}
