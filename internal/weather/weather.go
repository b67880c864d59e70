// Package weather resolves an owner's location to one of the coarse weather
// categories the decay model understands.
package weather

import (
	"strings"

	"petsim/internal/pet"
)

// Report is one observation from the weather provider.
type Report struct {
	Category    pet.Weather `json:"category"`
	Description string      `json:"description"`
	Temp        float64     `json:"temp"`
}

var categoryKeywords = []struct {
	category pet.Weather
	words    []string
}{
	{pet.WeatherRain, []string{"rain", "drizzle", "thunderstorm"}},
	{pet.WeatherCold, []string{"snow", "cold"}},
	{pet.WeatherClear, []string{"clear", "sunny"}},
	{pet.WeatherHot, []string{"hot", "warm"}},
}

// Categorize buckets a free-form description. The first matching group wins;
// anything unrecognised is clear.
func Categorize(description string) pet.Weather {
	desc := strings.ToLower(description)
	for _, group := range categoryKeywords {
		for _, w := range group.words {
			if strings.Contains(desc, w) {
				return group.category
			}
		}
	}
	return pet.WeatherClear
}
