// Package pet holds the deterministic pet simulation: stat decay, state
// classification, and the lost/restore lifecycle. Nothing here performs I/O.
package pet

import (
	"petsim/internal/models"
)

// Stat names a decaying stat in the multiplier tables.
type Stat string

const (
	StatHunger    Stat = "hunger"
	StatEnergy    Stat = "energy"
	StatHappiness Stat = "happiness"
	StatHealth    Stat = "health"
)

// DecayingStats are reduced by character, weather, state and cleanliness.
// Health is handled separately and cleanliness only changes through explicit updates.
var DecayingStats = []Stat{StatHunger, StatEnergy, StatHappiness}

// Weather is the coarse weather category consumed by the decay model.
type Weather string

const (
	WeatherRain  Weather = "rain"
	WeatherCold  Weather = "cold"
	WeatherClear Weather = "clear"
	WeatherHot   Weather = "hot"
)

var Weathers = []Weather{WeatherRain, WeatherCold, WeatherClear, WeatherHot}

// BaseReduction is the per-tick loss applied before multipliers.
const BaseReduction = 1.0

// Tables are the multiplier lookups of the decay model. Missing character or
// weather entries count as 1.0; a missing state row falls back to neutral.
type Tables struct {
	Character map[models.Character]map[Stat]float64
	Weather   map[Weather]map[models.Feature]float64
	State     map[models.State]map[Stat]float64
}

// DefaultTables returns the production multiplier tables.
func DefaultTables() Tables {
	return Tables{
		Character: map[models.Character]map[Stat]float64{
			models.CharacterPlayful:   {StatHunger: 1.0, StatEnergy: 0.6, StatHappiness: 0.8},
			models.CharacterLazy:      {StatHunger: 0.8, StatEnergy: 1.3, StatHappiness: 1.0},
			models.CharacterEnergetic: {StatHunger: 1.3, StatEnergy: 0.5, StatHappiness: 0.7},
			models.CharacterCurious:   {StatHunger: 1.0, StatEnergy: 0.9, StatHappiness: 0.9},
			models.CharacterShy:       {StatHunger: 0.9, StatEnergy: 1.0, StatHappiness: 1.2},
		},
		Weather: map[Weather]map[models.Feature]float64{
			WeatherRain: {
				models.FeatureRainLover: 0.7,
				models.FeatureRainHater: 1.5,
			},
			WeatherCold: {
				models.FeatureColdLover: 0.7,
				models.FeatureHotHater:  0.8,
			},
			WeatherClear: {
				models.FeatureDayLover: 0.8,
				models.FeatureSunHater: 1.3,
			},
			WeatherHot: {
				models.FeatureHotHater:  1.5,
				models.FeatureColdLover: 1.2,
			},
		},
		State: map[models.State]map[Stat]float64{
			// negative energy in sleep means energy recovers
			models.StateSleep:   {StatHunger: 0.5, StatEnergy: -0.5, StatHappiness: 0.3, StatHealth: 0.0},
			models.StatePlay:    {StatHunger: 1.0, StatEnergy: 1.5, StatHappiness: 0.5, StatHealth: 0.0},
			models.StateNeutral: {StatHunger: 1.0, StatEnergy: 1.0, StatHappiness: 1.0, StatHealth: 0.0},
			models.StateSad:     {StatHunger: 1.0, StatEnergy: 1.0, StatHappiness: 1.5, StatHealth: 0.5},
			models.StateSick1:   {StatHunger: 0.5, StatEnergy: 0.5, StatHappiness: 1.2, StatHealth: 0.5},
			models.StateSick2:   {StatHunger: 0.5, StatEnergy: 0.5, StatHappiness: 1.2, StatHealth: 1.0},
			models.StateSick3:   {StatHunger: 0.5, StatEnergy: 0.5, StatHappiness: 1.2, StatHealth: 2.0},
		},
	}
}

func (t Tables) clone() Tables {
	out := Tables{
		Character: make(map[models.Character]map[Stat]float64, len(t.Character)),
		Weather:   make(map[Weather]map[models.Feature]float64, len(t.Weather)),
		State:     make(map[models.State]map[Stat]float64, len(t.State)),
	}
	for k, row := range t.Character {
		out.Character[k] = copyRow(row)
	}
	for k, row := range t.Weather {
		cp := make(map[models.Feature]float64, len(row))
		for f, v := range row {
			cp[f] = v
		}
		out.Weather[k] = cp
	}
	for k, row := range t.State {
		out.State[k] = copyRow(row)
	}
	return out
}

func copyRow(row map[Stat]float64) map[Stat]float64 {
	cp := make(map[Stat]float64, len(row))
	for s, v := range row {
		cp[s] = v
	}
	return cp
}

// DecayInput is everything the model needs besides the stat values.
type DecayInput struct {
	Character   models.Character
	Feature     models.Feature
	Weather     Weather
	State       models.State
	Cleanliness float64
}

// InputFor builds the decay input for p under weather w.
func InputFor(p models.Pet, w Weather) DecayInput {
	return DecayInput{
		Character:   p.Character,
		Feature:     p.Feature,
		Weather:     w,
		State:       p.State,
		Cleanliness: p.Cleanliness,
	}
}

// DecayModel computes per-tick stat reductions. The tables are copied at
// construction and never mutated afterwards, so a model is safe for concurrent use.
type DecayModel struct {
	tables Tables
	base   float64
}

// NewDecayModel copies tables and uses base as the per-tick reduction.
// A non-positive base falls back to BaseReduction.
func NewDecayModel(tables Tables, base float64) *DecayModel {
	if base <= 0 {
		base = BaseReduction
	}
	return &DecayModel{tables: tables.clone(), base: base}
}

// CleanlinessFactor maps cleanliness 0..100 to a 1.5..0.5 decay multiplier; 50 is neutral.
func CleanlinessFactor(cleanliness float64) float64 {
	return 1.0 + (50.0-Clamp(cleanliness))/100.0
}

// Reduction returns how much stat drops this tick. Health only takes the
// state's health term; illness and sadness are the only sources of health loss.
func (m *DecayModel) Reduction(in DecayInput, stat Stat) float64 {
	if stat == StatHealth {
		return m.base * m.stateMultiplier(in.State, StatHealth)
	}
	return m.base *
		m.characterMultiplier(in.Character, stat) *
		m.weatherMultiplier(in.Weather, in.Feature) *
		m.stateMultiplier(in.State, stat) *
		CleanlinessFactor(in.Cleanliness)
}

// Apply returns s after one tick of decay, clamped to [0,100] and rounded to one decimal.
func (m *DecayModel) Apply(s models.Stats, in DecayInput) models.Stats {
	out := s
	out.Hunger = Round1(Clamp(s.Hunger - m.Reduction(in, StatHunger)))
	out.Energy = Round1(Clamp(s.Energy - m.Reduction(in, StatEnergy)))
	out.Happiness = Round1(Clamp(s.Happiness - m.Reduction(in, StatHappiness)))
	out.Health = Round1(Clamp(s.Health - m.Reduction(in, StatHealth)))
	return out
}

func (m *DecayModel) characterMultiplier(c models.Character, stat Stat) float64 {
	if v, ok := m.tables.Character[c][stat]; ok {
		return v
	}
	return 1.0
}

func (m *DecayModel) weatherMultiplier(w Weather, f models.Feature) float64 {
	if v, ok := m.tables.Weather[w][f]; ok {
		return v
	}
	return 1.0
}

func (m *DecayModel) stateMultiplier(s models.State, stat Stat) float64 {
	row, ok := m.tables.State[s]
	if !ok {
		row = m.tables.State[models.StateNeutral]
	}
	if v, ok := row[stat]; ok {
		return v
	}
	if stat == StatHealth {
		return 0
	}
	return 1.0
}
