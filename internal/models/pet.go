package models

import (
	"slices"
	"time"
)

// Character is the pet's temperament; it scales stat decay.
type Character string

const (
	CharacterPlayful   Character = "playful"
	CharacterLazy      Character = "lazy"
	CharacterEnergetic Character = "energetic"
	CharacterCurious   Character = "curious"
	CharacterShy       Character = "shy"
)

// Characters lists every character in a stable order.
var Characters = []Character{CharacterPlayful, CharacterLazy, CharacterEnergetic, CharacterCurious, CharacterShy}

// Valid reports whether c is a known character.
func (c Character) Valid() bool { return slices.Contains(Characters, c) }

// Feature is the pet's weather preference.
type Feature string

const (
	FeatureNormal    Feature = "normal"
	FeatureRainLover Feature = "rain_lover"
	FeatureColdLover Feature = "cold_lover"
	FeatureDayLover  Feature = "day_lover"
	FeatureHotHater  Feature = "hot_hater"
	FeatureSunHater  Feature = "sun_hater"
	FeatureRainHater Feature = "rain_hater"
)

var Features = []Feature{FeatureNormal, FeatureRainLover, FeatureColdLover, FeatureDayLover, FeatureHotHater, FeatureSunHater, FeatureRainHater}

func (f Feature) Valid() bool { return slices.Contains(Features, f) }

// State is the derived behavioral state.
type State string

const (
	StateNeutral State = "neutral"
	StateSad     State = "sad"
	StateSick1   State = "sick1"
	StateSick2   State = "sick2"
	StateSick3   State = "sick3"
	StateSleep   State = "sleep"
	StatePlay    State = "play"
)

var States = []State{StateNeutral, StateSad, StateSick1, StateSick2, StateSick3, StateSleep, StatePlay}

// IsSick reports whether s is one of the sickness tiers.
func (s State) IsSick() bool {
	return s == StateSick1 || s == StateSick2 || s == StateSick3
}

// IsSpecial reports whether s is a time-of-day activity (sleep or play).
func (s State) IsSpecial() bool {
	return s == StateSleep || s == StatePlay
}

// Stats holds the five simulated stats, each in [0,100].
type Stats struct {
	Hunger      float64 `json:"hunger"`
	Energy      float64 `json:"energy"`
	Happiness   float64 `json:"happiness"`
	Cleanliness float64 `json:"cleanliness"`
	Health      float64 `json:"health"`
}

// Pet is a simulated pet row. IsDeleted and IsLost are independent columns;
// listings hide a pet when either is set (see Hidden).
type Pet struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	Name      string    `json:"name"`
	Species   string    `json:"species"`
	Color     string    `json:"color"`
	Character Character `json:"character"`
	Feature   Feature   `json:"feature"`
	State     State     `json:"state"`
	Stats
	Experience      int64      `json:"experience"`
	IsDeleted       bool       `json:"is_deleted"`
	IsLost          bool       `json:"is_lost"`
	LostAt          *time.Time `json:"lost_at,omitempty"`
	SearchStartedAt *time.Time `json:"search_started_at,omitempty"`
	HealthZeroSince *time.Time `json:"health_zero_since,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	LastUpdated     time.Time  `json:"last_updated"`
}

// Hidden reports whether the pet is excluded from active listings and ticks.
func (p Pet) Hidden() bool {
	return p.IsDeleted || p.IsLost
}

// Owner is the subset of a user row the engine reads.
type Owner struct {
	ID       int64    `json:"id"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	Lat      *float64 `json:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty"`
}

// HasLocation reports whether both coordinates are known.
func (o Owner) HasLocation() bool {
	return o.Lat != nil && o.Lon != nil
}
