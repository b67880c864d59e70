package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petsim/internal/models"
)

var t0 = time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "petsim.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func seedPet(t *testing.T, st *Store, ownerID int64, name string, mutate func(*models.Pet)) models.Pet {
	t.Helper()
	p := models.Pet{
		OwnerID: ownerID, Name: name, Species: "cat", Color: "grey",
		Character: models.CharacterShy, Feature: models.FeatureRainLover, State: models.StateNeutral,
		Stats:     models.Stats{Hunger: 70, Energy: 40, Happiness: 40, Cleanliness: 45, Health: 100},
		CreatedAt: t0, LastUpdated: t0,
	}
	if mutate != nil {
		mutate(&p)
	}
	p, err := st.CreatePet(context.Background(), p)
	require.NoError(t, err)
	return p
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "petsim.db")

	st, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = st.UpsertJob(ctx, models.Job{Name: "pet_decay", Status: models.StatusPending, IsRecurring: true,
		Interval: models.Duration(30 * time.Minute), MaxAttempts: 5, CreatedAt: t0, UpdatedAt: t0})
	require.NoError(t, err)
	st.Close()

	st, err = Open(ctx, path)
	require.NoError(t, err)
	defer st.Close()
	job, found, err := st.GetJob(ctx, "pet_decay")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 30*time.Minute, job.Interval.Std())
}

func TestPets_ActiveFilterAndSave(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	lat, lon := 55.75, 37.62
	owner, err := st.CreateOwner(ctx, models.Owner{Email: "a@example.com", FullName: "Alex", Lat: &lat, Lon: &lon})
	require.NoError(t, err)

	visible := seedPet(t, st, owner.ID, "Tom", nil)
	seedPet(t, st, owner.ID, "Gone", func(p *models.Pet) { p.IsDeleted = true })
	lost := seedPet(t, st, owner.ID, "Lost", func(p *models.Pet) { p.IsLost = true; p.LostAt = &t0 })

	active, err := st.ListActivePets(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, visible.ID, active[0].ID)
	assert.Equal(t, models.FeatureRainLover, active[0].Feature)

	got, found, err := st.GetPet(ctx, lost.ID)
	require.NoError(t, err)
	require.True(t, found, "lost pets stay readable for the restore flow")
	assert.True(t, got.IsLost)
	assert.False(t, got.IsDeleted)
	assert.Equal(t, t0, *got.LostAt)

	visible.Hunger = 12.3
	visible.State = models.StateSick1
	zero := t0.Add(time.Hour)
	visible.HealthZeroSince = &zero
	visible.LastUpdated = zero
	require.NoError(t, st.SavePet(ctx, visible))

	got, _, err = st.GetPet(ctx, visible.ID)
	require.NoError(t, err)
	assert.Equal(t, 12.3, got.Hunger)
	assert.Equal(t, models.StateSick1, got.State)
	assert.Equal(t, zero, *got.HealthZeroSince)

	o, found, err := st.GetOwner(ctx, owner.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, o.HasLocation())
	assert.Equal(t, 55.75, *o.Lat)
}

func TestChats_IdleAndMessages(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	owner, err := st.CreateOwner(ctx, models.Owner{Email: "b@example.com"})
	require.NoError(t, err)
	pet := seedPet(t, st, owner.ID, "Rex", nil)
	hidden := seedPet(t, st, owner.ID, "Ghost", func(p *models.Pet) { p.IsDeleted = true })

	old := t0.Add(-2 * time.Hour)
	fresh := t0.Add(-10 * time.Minute)
	sender := owner.ID
	say := func(chatID int64, at time.Time) models.Message {
		t.Helper()
		m, err := st.AddMessage(ctx, models.Message{ChatID: chatID, SenderID: &sender, Type: models.MessageHuman, Content: "hi", CreatedAt: at})
		require.NoError(t, err)
		return m
	}

	idle, err := st.CreateChat(ctx, models.Chat{UserID: owner.ID, PetID: pet.ID, CreatedAt: old})
	require.NoError(t, err)
	say(idle.ID, old)
	busy, err := st.CreateChat(ctx, models.Chat{UserID: owner.ID, PetID: pet.ID, CreatedAt: old})
	require.NoError(t, err)
	say(busy.ID, fresh)
	ghost, err := st.CreateChat(ctx, models.Chat{UserID: owner.ID, PetID: hidden.ID, CreatedAt: old})
	require.NoError(t, err)
	say(ghost.ID, old)
	_, err = st.CreateChat(ctx, models.Chat{UserID: owner.ID, PetID: pet.ID, CreatedAt: old})
	require.NoError(t, err)

	chats, err := st.IdleChats(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, chats, 1, "empty chats and chats of hidden pets are skipped")
	assert.Equal(t, idle.ID, chats[0].ID)
	require.NotNil(t, chats[0].LastMessageAt)
	assert.Equal(t, old, *chats[0].LastMessageAt)

	_, err = st.AddMessage(ctx, models.Message{ChatID: idle.ID, Type: models.MessageAI, Content: "meow", CreatedAt: t0})
	require.NoError(t, err)

	msgs, err := st.RecentMessages(ctx, idle.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.MessageAI, msgs[0].Type, "newest first")
	assert.Nil(t, msgs[0].SenderID)
	assert.Equal(t, owner.ID, *msgs[1].SenderID)

	chats, err = st.IdleChats(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, chats, "a new message makes the chat busy")
}

func TestChats_IdleIgnoresDeletedMessages(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	owner, err := st.CreateOwner(ctx, models.Owner{Email: "c@example.com"})
	require.NoError(t, err)
	pet := seedPet(t, st, owner.ID, "Rex", nil)

	old := t0.Add(-2 * time.Hour)
	chat, err := st.CreateChat(ctx, models.Chat{UserID: owner.ID, PetID: pet.ID, CreatedAt: old})
	require.NoError(t, err)
	_, err = st.AddMessage(ctx, models.Message{ChatID: chat.ID, Type: models.MessageAI, Content: "meow", CreatedAt: old})
	require.NoError(t, err)
	latest, err := st.AddMessage(ctx, models.Message{ChatID: chat.ID, Type: models.MessageHuman, Content: "spam", CreatedAt: t0})
	require.NoError(t, err)

	chats, err := st.IdleChats(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, chats)

	_, err = st.db.ExecContext(ctx, `UPDATE messages SET is_deleted = 1 WHERE id = ?`, latest.ID)
	require.NoError(t, err)

	chats, err = st.IdleChats(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, chats, 1, "a deleted newest message does not keep the chat busy")
	assert.Equal(t, old, *chats[0].LastMessageAt)

	_, err = st.db.ExecContext(ctx, `
		INSERT INTO messages (chat_id, sender_id, message_type, content, created_at) VALUES (?, NULL, 'human', 'imported', ?)
	`, chat.ID, millis(t0))
	require.NoError(t, err)

	chats, err = st.IdleChats(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, chats, "messages written outside AddMessage count too")
}

func TestEmails_ClaimAndUpdate(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	future := t0.Add(time.Hour)
	due, err := st.EnqueueEmail(ctx, models.Email{Recipient: "a@example.com", Subject: "s", Body: "b", Status: models.EmailPending,
		MaxAttempts: 5, CreatedAt: t0, UpdatedAt: t0})
	require.NoError(t, err)
	_, err = st.EnqueueEmail(ctx, models.Email{Recipient: "b@example.com", Subject: "s", Body: "b", Status: models.EmailPending,
		MaxAttempts: 5, NextTry: &future, CreatedAt: t0, UpdatedAt: t0})
	require.NoError(t, err)

	claimed, err := st.ClaimEmails(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)
	assert.Equal(t, models.EmailInProgress, claimed[0].Status)
	assert.Equal(t, 1, claimed[0].Attempts)

	again, err := st.ClaimEmails(ctx, t0, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, st.UpdateEmail(ctx, due.ID, models.EmailUpdate{Status: models.EmailSent, UpdatedAt: t0}))
	got, found, err := st.GetEmail(ctx, due.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.EmailSent, got.Status)

	n, err := st.ResetStaleEmails(ctx, t0.Add(time.Minute), t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n, "sent emails are not reset")
}
