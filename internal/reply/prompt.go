// Package reply generates short in-character messages for a pet, either from
// the completion API or from a local phrase bank.
package reply

import (
	"fmt"
	"strings"

	"petsim/internal/models"
)

var phrases = map[models.Character][]string{
	models.CharacterPlayful: {
		"Let's play? 🎾 I'm ready!",
		"Let's have some fun! 😄",
		"I want to play! 🎮",
		"So bored... play with me? 🐾",
		"Yay! You're here! 🎉",
	},
	models.CharacterLazy: {
		"Mmm... later... 😴",
		"Sleeping is so nice... 🛌",
		"Maybe later? I'm tired... 😪",
		"Zzz... what did you say? 😒",
		"Too lazy to get up... 🦁",
	},
	models.CharacterEnergetic: {
		"Come on! I'm ready for anything! 💪",
		"Faster! Faster! Keep up! ⚡",
		"Grab luck by the tail! 🔥",
		"Let's go! Life is great! 🚀",
		"Never giving up! 💨",
	},
	models.CharacterCurious: {
		"What's that? Interesting! 👀",
		"But why? Tell me! 🤔",
		"Something new? Cool! 🔍",
		"Where did you get that? 📚",
		"Go on! I'm listening! 👂",
	},
	models.CharacterShy: {
		"Oh... h-hi... 😳",
		"You... think about me? 💕",
		"Um... I'm here... 🙈",
		"I'm a little scared... 😰",
		"You're... kind? 🥺",
	},
}

// Phrases returns the fallback bank for c. Unknown characters use the playful bank.
func Phrases(c models.Character) []string {
	if bank, ok := phrases[c]; ok {
		return bank
	}
	return phrases[models.CharacterPlayful]
}

// Fallback picks a phrase for c. draw must return a value in [0,1).
func Fallback(c models.Character, draw func() float64) string {
	bank := Phrases(c)
	i := int(draw() * float64(len(bank)))
	if i < 0 {
		i = 0
	}
	if i >= len(bank) {
		i = len(bank) - 1
	}
	return bank[i]
}

// SystemPrompt describes the pet to the model.
func SystemPrompt(p models.Pet, isOwner bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a digital pet named %s.\n", p.Name)
	fmt.Fprintf(&b, "Species: %s. Colour: %s.\n", p.Species, p.Color)
	fmt.Fprintf(&b, "Your character: %s.\n", p.Character)
	fmt.Fprintf(&b, "Your feature: %s.\n", p.Feature)
	if isOwner {
		b.WriteString("You are talking to your owner in short, emotional and friendly phrases.\n")
		b.WriteString("Address them affectionately, like 'my human'.\n")
	} else {
		b.WriteString("This is not your owner but a stranger. Never call them your owner.\n")
		b.WriteString("Be polite, careful and reserved.\n")
	}
	b.WriteString("Use emoji, but not at the start of a sentence.\n")
	b.WriteString("Keep phrases short and varied, do not repeat yourself.\n")
	b.WriteString("At most one or two short sentences.")
	return b.String()
}

// Conversation renders history oldest first as "Owner:"/"Pet:" lines.
func Conversation(history []models.Message, isOwner bool) string {
	human := "Owner"
	if !isOwner {
		human = "Human"
	}
	lines := make([]string, 0, len(history))
	for _, m := range history {
		role := "Pet"
		if m.Type == models.MessageHuman {
			role = human
		}
		lines = append(lines, role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// Prompt is the full completion prompt.
func Prompt(p models.Pet, history []models.Message, isOwner bool) string {
	return SystemPrompt(p, isOwner) + "\n\nConversation so far\n" + Conversation(history, isOwner) + "\n\nPet:"
}
