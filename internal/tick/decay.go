// Package tick holds the two recurring jobs: stat decay and unprompted pet messages.
package tick

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"petsim/internal/logger"
	"petsim/internal/models"
	"petsim/internal/pet"
	"petsim/internal/telemetry"
)

// PetStore is what the decay tick reads and writes.
type PetStore interface {
	ListActivePets(ctx context.Context) ([]models.Pet, error)
	GetOwner(ctx context.Context, id int64) (models.Owner, bool, error)
	SavePet(ctx context.Context, p models.Pet) error
}

// WeatherResolver never fails; it degrades to clear.
type WeatherResolver interface {
	Resolve(ctx context.Context, owner models.Owner) pet.Weather
}

// Notifier is the owner notification sink.
type Notifier interface {
	Notify(ctx context.Context, owner models.Owner, petNames []string) (bool, error)
}

// notifyHealthBelow is the health level under which an owner hears about a pet.
const notifyHealthBelow = 50.0

// DecayResult summarises one decay run.
type DecayResult struct {
	Processed int
	Failed    int
	Lost      int
	Notified  int
}

// DecayTick applies one round of stat decay to every active pet.
type DecayTick struct {
	store    PetStore
	weather  WeatherResolver
	notifier Notifier
	model    *pet.DecayModel
	now      func() time.Time
	log      *slog.Logger
}

func NewDecayTick(st PetStore, weather WeatherResolver, notifier Notifier, model *pet.DecayModel, log *slog.Logger) *DecayTick {
	if model == nil {
		model = pet.NewDecayModel(pet.DefaultTables(), pet.BaseReduction)
	}
	if log == nil {
		log = slog.Default()
	}
	return &DecayTick{
		store:    st,
		weather:  weather,
		notifier: notifier,
		model:    model,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// SetClock replaces the time source; used by tests.
func (t *DecayTick) SetClock(now func() time.Time) {
	t.now = now
}

// owners memoises owner rows and weather for the duration of one run.
type owners struct {
	rows    map[int64]models.Owner
	weather map[int64]pet.Weather
}

// Run decays every active pet. A failing pet is logged and skipped; only a
// failure to list pets fails the run.
func (t *DecayTick) Run(ctx context.Context) (DecayResult, error) {
	log := logger.FromContext(ctx, t.log)
	now := t.now()

	pets, err := t.store.ListActivePets(ctx)
	if err != nil {
		return DecayResult{}, fmt.Errorf("list pets: %w", err)
	}
	log.Info("decay tick started", "pets", len(pets), "base_state", pet.TimeOfDayState(now))

	cache := owners{rows: map[int64]models.Owner{}, weather: map[int64]pet.Weather{}}
	unwell := map[int64][]string{}
	var order []int64
	var res DecayResult

	for i := range pets {
		p := pets[i]
		alert, lost, err := t.decayPet(ctx, &p, now, &cache)
		if err != nil {
			res.Failed++
			log.Error("decay failed for pet", "pet_id", p.ID, "error", err)
			continue
		}
		res.Processed++
		telemetry.PetsDecayed.Inc()
		if lost {
			res.Lost++
			telemetry.PetsLost.Inc()
			log.Warn("pet ran away", "pet_id", p.ID, "owner_id", p.OwnerID)
			continue
		}
		if alert {
			if _, seen := unwell[p.OwnerID]; !seen {
				order = append(order, p.OwnerID)
			}
			unwell[p.OwnerID] = append(unwell[p.OwnerID], p.Name)
		}
		log.Debug("pet decayed", "pet_id", p.ID, "state", p.State,
			"hunger", p.Hunger, "energy", p.Energy, "happiness", p.Happiness, "health", p.Health)
	}

	for _, ownerID := range order {
		owner, ok := t.owner(ctx, ownerID, &cache)
		if !ok {
			continue
		}
		sent, err := t.notifier.Notify(ctx, owner, unwell[ownerID])
		if err != nil {
			log.Error("notify owner failed", "owner_id", ownerID, "error", err)
			continue
		}
		if sent {
			res.Notified++
		}
	}

	log.Info("decay tick finished", "processed", res.Processed, "failed", res.Failed, "lost", res.Lost, "notified", res.Notified)
	return res, nil
}

func (t *DecayTick) decayPet(ctx context.Context, p *models.Pet, now time.Time, cache *owners) (alert, lost bool, err error) {
	pet.BackfillHealthZero(p)
	p.State = pet.BaseState(p.State, now)
	p.State = pet.Classify(p.Stats, p.State, now)

	w := t.weatherFor(ctx, p.OwnerID, cache)
	p.Stats = t.model.Apply(p.Stats, pet.InputFor(*p, w))
	p.State = pet.Classify(p.Stats, p.State, now)

	pet.TrackHealthZero(p, now)
	lost = pet.CheckLost(p, now)
	p.LastUpdated = now

	if err := t.store.SavePet(ctx, *p); err != nil {
		return false, false, err
	}
	alert = p.Hunger == 0 || p.Energy == 0 || p.Happiness == 0 || p.Health < notifyHealthBelow
	return alert, lost, nil
}

func (t *DecayTick) weatherFor(ctx context.Context, ownerID int64, cache *owners) pet.Weather {
	if w, ok := cache.weather[ownerID]; ok {
		return w
	}
	w := pet.WeatherClear
	if owner, ok := t.owner(ctx, ownerID, cache); ok && t.weather != nil {
		w = t.weather.Resolve(ctx, owner)
	}
	cache.weather[ownerID] = w
	return w
}

func (t *DecayTick) owner(ctx context.Context, id int64, cache *owners) (models.Owner, bool) {
	if o, ok := cache.rows[id]; ok {
		return o, true
	}
	o, found, err := t.store.GetOwner(ctx, id)
	if err != nil {
		logger.FromContext(ctx, t.log).Warn("load owner failed", "owner_id", id, "error", err)
		return models.Owner{}, false
	}
	if !found {
		return models.Owner{}, false
	}
	cache.rows[id] = o
	return o, true
}
