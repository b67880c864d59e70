package petservice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petsim/internal/models"
	"petsim/internal/pet"
)

var noon = time.Date(2025, 5, 10, 11, 0, 0, 0, time.UTC)

type memStore struct {
	pets   map[int64]models.Pet
	nextID int64
	saves  int
	err    error
}

func newMemStore() *memStore { return &memStore{pets: map[int64]models.Pet{}} }

func (m *memStore) CreatePet(_ context.Context, p models.Pet) (models.Pet, error) {
	if m.err != nil {
		return models.Pet{}, m.err
	}
	m.nextID++
	p.ID = m.nextID
	m.pets[p.ID] = p
	return p, nil
}

func (m *memStore) GetPet(_ context.Context, id int64) (models.Pet, bool, error) {
	if m.err != nil {
		return models.Pet{}, false, m.err
	}
	p, ok := m.pets[id]
	return p, ok, nil
}

func (m *memStore) SavePet(_ context.Context, p models.Pet) error {
	if m.err != nil {
		return m.err
	}
	m.saves++
	m.pets[p.ID] = p
	return nil
}

func newService(st Store, draw float64) *Service {
	s := New(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.SetClock(func() time.Time { return noon })
	s.SetDraw(func() float64 { return draw })
	return s
}

func f(v float64) *float64 { return &v }

func seed(t *testing.T, st *memStore, mutate func(*models.Pet)) models.Pet {
	t.Helper()
	p := models.Pet{
		OwnerID: 7, Name: "Mochi", Character: models.CharacterPlayful, Feature: models.FeatureNormal,
		State: models.StateNeutral, Stats: pet.InitialStats(models.CharacterPlayful),
		CreatedAt: noon.Add(-48 * time.Hour), LastUpdated: noon.Add(-time.Hour),
	}
	if mutate != nil {
		mutate(&p)
	}
	created, err := st.CreatePet(context.Background(), p)
	require.NoError(t, err)
	return created
}

func TestCreate(t *testing.T) {
	st := newMemStore()
	s := newService(st, 0)

	p, err := s.Create(context.Background(), 7, NewPet{Name: " Bo ", Species: "cat", Character: models.CharacterShy})
	require.NoError(t, err)
	assert.Equal(t, "Bo", p.Name)
	assert.Equal(t, models.Stats{Hunger: 70, Energy: 40, Happiness: 40, Cleanliness: 45, Health: 100}, p.Stats)
	assert.Equal(t, models.FeatureNormal, p.Feature)
	assert.Equal(t, models.StateNeutral, p.State)
	assert.Zero(t, p.Experience)
	assert.Equal(t, noon, p.CreatedAt)

	_, err = s.Create(context.Background(), 7, NewPet{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalidPet)
}

func TestCreate_RejectsUnknownEnums(t *testing.T) {
	tests := []struct {
		name string
		in   NewPet
		msg  string
	}{
		{"character", NewPet{Name: "Rex", Character: "grumpy"}, `unknown character "grumpy"`},
		{"feature", NewPet{Name: "Rex", Feature: "moon_lover"}, `unknown feature "moon_lover"`},
		{"both", NewPet{Name: "Rex", Character: "grumpy", Feature: "moon_lover"}, `unknown character "grumpy"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore()
			_, err := newService(st, 0).Create(context.Background(), 7, tt.in)
			require.ErrorIs(t, err, ErrInvalidPet)
			assert.ErrorContains(t, err, tt.msg)
			assert.Empty(t, st.pets, "nothing is stored")
		})
	}

	for _, c := range models.Characters {
		for _, f := range models.Features {
			_, err := newService(newMemStore(), 0).Create(context.Background(), 7, NewPet{Name: "Rex", Character: c, Feature: f})
			require.NoError(t, err, "%s/%s", c, f)
		}
	}
}

func TestGet_OwnershipAndDeleted(t *testing.T) {
	st := newMemStore()
	s := newService(st, 0)
	p := seed(t, st, nil)
	gone := seed(t, st, func(p *models.Pet) { p.IsDeleted = true })

	_, err := s.Get(context.Background(), p.ID, 8)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = s.Get(context.Background(), gone.ID, 7)
	assert.ErrorIs(t, err, ErrPetNotFound)
	_, err = s.Get(context.Background(), 99, 7)
	assert.ErrorIs(t, err, ErrPetNotFound)
}

func TestGet_ReclassifiesAndMarksLost(t *testing.T) {
	st := newMemStore()
	s := newService(st, 0)
	since := noon.Add(-25 * time.Hour)
	p := seed(t, st, func(p *models.Pet) {
		p.Health = 0
		p.HealthZeroSince = &since
	})
	sad := seed(t, st, func(p *models.Pet) { p.Happiness = 10 })

	got, err := s.Get(context.Background(), p.ID, 7)
	require.NoError(t, err)
	assert.True(t, got.IsLost)
	assert.True(t, st.pets[p.ID].IsLost, "transition is persisted")

	got, err = s.Get(context.Background(), sad.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, models.StateSad, got.State)

	saves := st.saves
	_, err = s.Get(context.Background(), sad.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, saves, st.saves, "unchanged pets are not written")
}

func TestGet_LegacyZeroHealthCountsFromLastUpdated(t *testing.T) {
	st := newMemStore()
	s := newService(st, 0)
	old := seed(t, st, func(p *models.Pet) {
		p.Health = 0
		p.LastUpdated = noon.Add(-25 * time.Hour)
	})
	young := seed(t, st, func(p *models.Pet) {
		p.Health = 0
		p.LastUpdated = noon.Add(-2 * time.Hour)
	})

	got, err := s.Get(context.Background(), old.ID, 7)
	require.NoError(t, err)
	assert.True(t, got.IsLost)

	got, err = s.Get(context.Background(), young.ID, 7)
	require.NoError(t, err)
	assert.False(t, got.IsLost)
	require.NotNil(t, st.pets[young.ID].HealthZeroSince, "seeded stamp is persisted")
	assert.Equal(t, noon.Add(-2*time.Hour), *st.pets[young.ID].HealthZeroSince)
}

func TestUpdateStats_ClampsAndRounds(t *testing.T) {
	st := newMemStore()
	s := newService(st, 0)
	p := seed(t, st, func(p *models.Pet) { p.Experience = pet.MaxExperience - 1 })

	xp := int64(10)
	got, err := s.UpdateStats(context.Background(), p.ID, 7, pet.Delta{
		Hunger: f(70), Energy: f(-100), Happiness: f(0.04), Experience: &xp,
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Hunger)
	assert.Equal(t, 0.0, got.Energy)
	assert.Equal(t, 70.0, got.Happiness)
	assert.Equal(t, pet.MaxExperience, got.Experience)
	assert.Equal(t, models.StateSick2, got.State)
	assert.Equal(t, noon, got.LastUpdated)
	assert.Equal(t, got, st.pets[p.ID])
}

func TestUpdateStats_HealthZeroTracking(t *testing.T) {
	st := newMemStore()
	s := newService(st, 0)
	p := seed(t, st, nil)

	got, err := s.UpdateStats(context.Background(), p.ID, 7, pet.Delta{Health: f(-150)})
	require.NoError(t, err)
	require.NotNil(t, got.HealthZeroSince)
	assert.Equal(t, noon, *got.HealthZeroSince)

	got, err = s.UpdateStats(context.Background(), p.ID, 7, pet.Delta{Health: f(5)})
	require.NoError(t, err)
	assert.Nil(t, got.HealthZeroSince)
}

func TestUpdateStats_RejectsLostPet(t *testing.T) {
	st := newMemStore()
	s := newService(st, 0)
	p := seed(t, st, func(p *models.Pet) { p.IsLost = true })
	_, err := s.UpdateStats(context.Background(), p.ID, 7, pet.Delta{Hunger: f(5)})
	assert.ErrorIs(t, err, ErrPetLost)
}

func TestUpdateStatsWithChances(t *testing.T) {
	variant := 20.0
	cd := pet.ChanceDelta{Hunger: &pet.Chance[float64]{Delta: 5, Chance: 30, Variant: &variant}}

	st := newMemStore()
	p := seed(t, st, nil)
	got, err := newService(st, 29.9).UpdateStatsWithChances(context.Background(), p.ID, 7, cd)
	require.NoError(t, err)
	assert.Equal(t, 60.0, got.Hunger, "draw under the chance picks the variant")

	st = newMemStore()
	p = seed(t, st, nil)
	got, err = newService(st, 30).UpdateStatsWithChances(context.Background(), p.ID, 7, cd)
	require.NoError(t, err)
	assert.Equal(t, 45.0, got.Hunger)
}

func TestSearchAndRestore(t *testing.T) {
	lostAt := noon.Add(-30 * time.Hour)
	lost := func(p *models.Pet) {
		p.IsLost = true
		p.LostAt = &lostAt
		p.Health = 0
		p.HealthZeroSince = &lostAt
	}

	t.Run("not lost", func(t *testing.T) {
		st := newMemStore()
		p := seed(t, st, nil)
		_, err := newService(st, 0).StartSearch(context.Background(), p.ID, 7)
		assert.ErrorIs(t, err, pet.ErrNotLost)
	})

	t.Run("restore before search", func(t *testing.T) {
		st := newMemStore()
		p := seed(t, st, lost)
		_, _, err := newService(st, 0).Restore(context.Background(), p.ID, 7)
		assert.ErrorIs(t, err, pet.ErrSearchNotStarted)
	})

	t.Run("pending then restored", func(t *testing.T) {
		st := newMemStore()
		p := seed(t, st, lost)
		s := newService(st, 10)

		_, err := s.StartSearch(context.Background(), p.ID, 7)
		require.NoError(t, err)

		s.SetClock(func() time.Time { return noon.Add(2 * time.Hour) })
		res, got, err := s.Restore(context.Background(), p.ID, 7)
		require.NoError(t, err)
		assert.Equal(t, pet.RestorePending, res.Outcome)
		assert.Equal(t, 3*time.Hour, res.Remaining)
		assert.True(t, got.IsLost)

		s.SetClock(func() time.Time { return noon.Add(5 * time.Hour) })
		res, got, err = s.Restore(context.Background(), p.ID, 7)
		require.NoError(t, err)
		assert.Equal(t, pet.Restored, res.Outcome)
		assert.False(t, got.IsLost)
		assert.Equal(t, 1.0, got.Health)
		assert.Nil(t, got.SearchStartedAt)
		assert.False(t, st.pets[p.ID].IsLost)
	})

	t.Run("gone forever", func(t *testing.T) {
		st := newMemStore()
		p := seed(t, st, lost)
		s := newService(st, 75)
		_, err := s.StartSearch(context.Background(), p.ID, 7)
		require.NoError(t, err)
		s.SetClock(func() time.Time { return noon.Add(6 * time.Hour) })

		res, _, err := s.Restore(context.Background(), p.ID, 7)
		require.NoError(t, err)
		assert.Equal(t, pet.GoneForever, res.Outcome)
		assert.True(t, st.pets[p.ID].IsDeleted)

		_, err = s.Get(context.Background(), p.ID, 7)
		assert.ErrorIs(t, err, ErrPetNotFound)
	})
}

func TestDelete(t *testing.T) {
	st := newMemStore()
	s := newService(st, 0)
	p := seed(t, st, func(p *models.Pet) { p.IsLost = true })

	require.NoError(t, s.Delete(context.Background(), p.ID, 7))
	assert.True(t, st.pets[p.ID].IsDeleted)
	assert.False(t, st.pets[p.ID].IsLost)
	assert.ErrorIs(t, s.Delete(context.Background(), p.ID, 7), ErrPetNotFound)
}

func TestStoreErrorsAreWrapped(t *testing.T) {
	st := newMemStore()
	st.err = errors.New("connection refused")
	_, err := newService(st, 0).Get(context.Background(), 1, 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, st.err)
	assert.NotErrorIs(t, err, ErrPetNotFound)
}
