// Package petservice implements the operations an owner performs on a pet.
package petservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"petsim/internal/models"
	"petsim/internal/pet"
)

var (
	ErrPetNotFound = errors.New("pet not found")
	ErrForbidden   = errors.New("pet belongs to another owner")
	ErrPetLost     = errors.New("pet is lost")
	ErrInvalidPet  = errors.New("invalid pet")
)

// Store is the pet persistence the service needs.
type Store interface {
	CreatePet(ctx context.Context, p models.Pet) (models.Pet, error)
	GetPet(ctx context.Context, id int64) (models.Pet, bool, error)
	SavePet(ctx context.Context, p models.Pet) error
}

// NewPet is the input to Create.
type NewPet struct {
	Name      string           `json:"name"`
	Species   string           `json:"species"`
	Color     string           `json:"color"`
	Character models.Character `json:"character"`
	Feature   models.Feature   `json:"feature"`
}

type Service struct {
	store Store
	now   func() time.Time
	log   *slog.Logger

	mu   sync.Mutex
	draw func() float64
}

func New(st Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Service{
		store: st,
		now:   func() time.Time { return time.Now().UTC() },
		log:   log,
		draw:  func() float64 { return rng.Float64() * 100 },
	}
}

// SetClock replaces the time source; used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetDraw replaces the random source. draw must return values in [0,100).
func (s *Service) SetDraw(draw func() float64) {
	s.mu.Lock()
	s.draw = draw
	s.mu.Unlock()
}

func (s *Service) roll() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draw()
}

// Create stores a new pet with the starting stats of its character.
func (s *Service) Create(ctx context.Context, ownerID int64, in NewPet) (models.Pet, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.Pet{}, fmt.Errorf("%w: name is required", ErrInvalidPet)
	}
	if in.Character == "" {
		in.Character = models.CharacterPlayful
	}
	if in.Feature == "" {
		in.Feature = models.FeatureNormal
	}
	if !in.Character.Valid() {
		return models.Pet{}, fmt.Errorf("%w: unknown character %q", ErrInvalidPet, in.Character)
	}
	if !in.Feature.Valid() {
		return models.Pet{}, fmt.Errorf("%w: unknown feature %q", ErrInvalidPet, in.Feature)
	}
	now := s.now()
	p := models.Pet{
		OwnerID:     ownerID,
		Name:        name,
		Species:     in.Species,
		Color:       in.Color,
		Character:   in.Character,
		Feature:     in.Feature,
		Stats:       pet.InitialStats(in.Character),
		CreatedAt:   now,
		LastUpdated: now,
	}
	p.State = pet.Classify(p.Stats, pet.TimeOfDayState(now), now)

	created, err := s.store.CreatePet(ctx, p)
	if err != nil {
		return models.Pet{}, fmt.Errorf("create pet: %w", err)
	}
	s.log.Info("pet created", "pet_id", created.ID, "owner_id", ownerID, "character", created.Character)
	return created, nil
}

// load fetches a pet owned by ownerID. Soft-deleted pets do not exist for
// their owner; lost pets do, so they can be searched for.
func (s *Service) load(ctx context.Context, id, ownerID int64) (models.Pet, error) {
	p, found, err := s.store.GetPet(ctx, id)
	if err != nil {
		return models.Pet{}, fmt.Errorf("load pet %d: %w", id, err)
	}
	if !found || p.IsDeleted {
		return models.Pet{}, ErrPetNotFound
	}
	if p.OwnerID != ownerID {
		return models.Pet{}, ErrForbidden
	}
	return p, nil
}

// refresh reclassifies p and applies the lost transition. It reports whether
// anything changed.
func (s *Service) refresh(p *models.Pet, now time.Time) bool {
	zeroBefore := p.HealthZeroSince
	pet.TrackHealthZero(p, now)
	changed := (zeroBefore == nil) != (p.HealthZeroSince == nil)
	if pet.Reclassify(p, now) {
		changed = true
	}
	if pet.CheckLost(p, now) {
		s.log.Warn("pet ran away", "pet_id", p.ID, "owner_id", p.OwnerID)
		changed = true
	}
	return changed
}

// Get loads a pet, bringing its state and lost flag up to date.
func (s *Service) Get(ctx context.Context, id, ownerID int64) (models.Pet, error) {
	p, err := s.load(ctx, id, ownerID)
	if err != nil {
		return models.Pet{}, err
	}
	seeded := pet.BackfillHealthZero(&p)
	if s.refresh(&p, s.now()) || seeded {
		if err := s.store.SavePet(ctx, p); err != nil {
			return models.Pet{}, fmt.Errorf("save pet %d: %w", id, err)
		}
	}
	return p, nil
}

// UpdateStats adds d to the pet's stats.
func (s *Service) UpdateStats(ctx context.Context, id, ownerID int64, d pet.Delta) (models.Pet, error) {
	p, err := s.load(ctx, id, ownerID)
	if err != nil {
		return models.Pet{}, err
	}
	if p.IsLost {
		return models.Pet{}, ErrPetLost
	}
	now := s.now()
	pet.BackfillHealthZero(&p)
	pet.ApplyDelta(&p, d)
	s.refresh(&p, now)
	p.LastUpdated = now
	if err := s.store.SavePet(ctx, p); err != nil {
		return models.Pet{}, fmt.Errorf("save pet %d: %w", id, err)
	}
	return p, nil
}

// UpdateStatsWithChances resolves every chance once, then behaves like UpdateStats.
func (s *Service) UpdateStatsWithChances(ctx context.Context, id, ownerID int64, cd pet.ChanceDelta) (models.Pet, error) {
	return s.UpdateStats(ctx, id, ownerID, cd.Resolve(s.roll))
}

// StartSearch begins looking for a lost pet.
func (s *Service) StartSearch(ctx context.Context, id, ownerID int64) (models.Pet, error) {
	p, err := s.load(ctx, id, ownerID)
	if err != nil {
		return models.Pet{}, err
	}
	if err := pet.StartSearch(&p, s.now()); err != nil {
		return models.Pet{}, err
	}
	if err := s.store.SavePet(ctx, p); err != nil {
		return models.Pet{}, fmt.Errorf("save pet %d: %w", id, err)
	}
	s.log.Info("search started", "pet_id", id, "owner_id", ownerID)
	return p, nil
}

// Restore resolves a running search. A pending result changes nothing.
func (s *Service) Restore(ctx context.Context, id, ownerID int64) (pet.RestoreResult, models.Pet, error) {
	p, err := s.load(ctx, id, ownerID)
	if err != nil {
		return pet.RestoreResult{}, models.Pet{}, err
	}
	now := s.now()
	res, err := pet.Restore(&p, now, s.roll())
	if err != nil {
		return pet.RestoreResult{}, models.Pet{}, err
	}
	if res.Outcome == pet.RestorePending {
		return res, p, nil
	}
	if res.Outcome == pet.Restored {
		pet.Reclassify(&p, now)
		p.LastUpdated = now
	}
	if err := s.store.SavePet(ctx, p); err != nil {
		return pet.RestoreResult{}, models.Pet{}, fmt.Errorf("save pet %d: %w", id, err)
	}
	s.log.Info("search resolved", "pet_id", id, "owner_id", ownerID, "outcome", res.Outcome.String())
	return res, p, nil
}

// Delete soft-deletes the pet. A lost pet that is deleted stops being lost.
func (s *Service) Delete(ctx context.Context, id, ownerID int64) error {
	p, err := s.load(ctx, id, ownerID)
	if err != nil {
		return err
	}
	p.IsDeleted = true
	p.IsLost = false
	p.SearchStartedAt = nil
	if err := s.store.SavePet(ctx, p); err != nil {
		return fmt.Errorf("delete pet %d: %w", id, err)
	}
	return nil
}
