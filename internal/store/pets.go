package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"petsim/internal/models"
)

const petColumns = `id, owner_id, name, species, color, character_type, feature, state,
	hunger, energy, happiness, cleanliness, health, experience, is_deleted, is_lost,
	lost_at, search_started_at, health_zero_since, created_at, last_updated`

func scanPet(row scanner) (models.Pet, error) {
	var (
		p                                 models.Pet
		character, feature, state         string
		lostAt, searchStarted, healthZero pgtype.Timestamptz
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Species, &p.Color, &character, &feature, &state,
		&p.Hunger, &p.Energy, &p.Happiness, &p.Cleanliness, &p.Health, &p.Experience, &p.IsDeleted, &p.IsLost,
		&lostAt, &searchStarted, &healthZero, &p.CreatedAt, &p.LastUpdated); err != nil {
		return models.Pet{}, err
	}
	p.Character = models.Character(character)
	p.Feature = models.Feature(feature)
	p.State = models.State(state)
	p.LostAt = timePtr(lostAt)
	p.SearchStartedAt = timePtr(searchStarted)
	p.HealthZeroSince = timePtr(healthZero)
	p.CreatedAt = p.CreatedAt.UTC()
	p.LastUpdated = p.LastUpdated.UTC()
	return p, nil
}

func (s *Store) CreateOwner(ctx context.Context, o models.Owner) (models.Owner, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, full_name, lat, lon) VALUES ($1, $2, $3, $4) RETURNING id
	`, o.Email, o.FullName, o.Lat, o.Lon).Scan(&o.ID)
	if err != nil {
		return models.Owner{}, fmt.Errorf("insert owner: %w", err)
	}
	return o, nil
}

func (s *Store) GetOwner(ctx context.Context, id int64) (models.Owner, bool, error) {
	var (
		o        models.Owner
		lat, lon pgtype.Float8
	)
	err := s.pool.QueryRow(ctx, `SELECT id, email, full_name, lat, lon FROM users WHERE id = $1`, id).
		Scan(&o.ID, &o.Email, &o.FullName, &lat, &lon)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Owner{}, false, nil
	}
	if err != nil {
		return models.Owner{}, false, fmt.Errorf("scan owner: %w", err)
	}
	o.Lat, o.Lon = floatPtr(lat), floatPtr(lon)
	return o, true, nil
}

func (s *Store) CreatePet(ctx context.Context, p models.Pet) (models.Pet, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO pets (owner_id, name, species, color, character_type, feature, state,
			hunger, energy, happiness, cleanliness, health, experience, is_deleted, is_lost,
			lost_at, search_started_at, health_zero_since, created_at, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id
	`, p.OwnerID, p.Name, p.Species, p.Color, string(p.Character), string(p.Feature), string(p.State),
		p.Hunger, p.Energy, p.Happiness, p.Cleanliness, p.Health, p.Experience, p.IsDeleted, p.IsLost,
		p.LostAt, p.SearchStartedAt, p.HealthZeroSince, p.CreatedAt, p.LastUpdated).Scan(&p.ID)
	if err != nil {
		return models.Pet{}, fmt.Errorf("insert pet: %w", err)
	}
	return p, nil
}

func (s *Store) GetPet(ctx context.Context, id int64) (models.Pet, bool, error) {
	p, err := scanPet(s.pool.QueryRow(ctx, `SELECT `+petColumns+` FROM pets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Pet{}, false, nil
	}
	if err != nil {
		return models.Pet{}, false, fmt.Errorf("scan pet: %w", err)
	}
	return p, true, nil
}

// ListActivePets returns pets that are neither deleted nor lost.
func (s *Store) ListActivePets(ctx context.Context) ([]models.Pet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+petColumns+` FROM pets WHERE NOT is_deleted AND NOT is_lost ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query pets: %w", err)
	}
	defer rows.Close()
	var out []models.Pet
	for rows.Next() {
		p, err := scanPet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pet: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavePet rewrites the simulated columns of p.
func (s *Store) SavePet(ctx context.Context, p models.Pet) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pets
		SET state = $2, hunger = $3, energy = $4, happiness = $5, cleanliness = $6, health = $7, experience = $8,
		    is_deleted = $9, is_lost = $10, lost_at = $11, search_started_at = $12, health_zero_since = $13, last_updated = $14
		WHERE id = $1
	`, p.ID, string(p.State), p.Hunger, p.Energy, p.Happiness, p.Cleanliness, p.Health, p.Experience,
		p.IsDeleted, p.IsLost, p.LostAt, p.SearchStartedAt, p.HealthZeroSince, p.LastUpdated)
	if err != nil {
		return fmt.Errorf("update pet %d: %w", p.ID, err)
	}
	return nil
}
