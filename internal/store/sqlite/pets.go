package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"petsim/internal/models"
)

const petColumns = `id, owner_id, name, species, color, character_type, feature, state,
	hunger, energy, happiness, cleanliness, health, experience, is_deleted, is_lost,
	lost_at, search_started_at, health_zero_since, created_at, last_updated`

func scanPet(row scanner) (models.Pet, error) {
	var (
		p                                 models.Pet
		lostAt, searchStarted, healthZero sql.NullInt64
		created, updated                  int64
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Species, &p.Color, &p.Character, &p.Feature, &p.State,
		&p.Hunger, &p.Energy, &p.Happiness, &p.Cleanliness, &p.Health, &p.Experience, &p.IsDeleted, &p.IsLost,
		&lostAt, &searchStarted, &healthZero, &created, &updated); err != nil {
		return models.Pet{}, err
	}
	p.LostAt = fromNullMillis(lostAt)
	p.SearchStartedAt = fromNullMillis(searchStarted)
	p.HealthZeroSince = fromNullMillis(healthZero)
	p.CreatedAt = fromMillis(created)
	p.LastUpdated = fromMillis(updated)
	return p, nil
}

func (s *Store) CreateOwner(ctx context.Context, o models.Owner) (models.Owner, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (email, full_name, lat, lon, created_at) VALUES (?, ?, ?, ?, strftime('%s','now') * 1000)
	`, o.Email, o.FullName, o.Lat, o.Lon)
	if err != nil {
		return models.Owner{}, fmt.Errorf("insert owner: %w", err)
	}
	if o.ID, err = res.LastInsertId(); err != nil {
		return models.Owner{}, fmt.Errorf("owner id: %w", err)
	}
	return o, nil
}

func (s *Store) GetOwner(ctx context.Context, id int64) (models.Owner, bool, error) {
	var (
		o        models.Owner
		lat, lon sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, email, full_name, lat, lon FROM users WHERE id = ?`, id).
		Scan(&o.ID, &o.Email, &o.FullName, &lat, &lon)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Owner{}, false, nil
	}
	if err != nil {
		return models.Owner{}, false, fmt.Errorf("scan owner: %w", err)
	}
	o.Lat, o.Lon = floatPtr(lat), floatPtr(lon)
	return o, true, nil
}

func (s *Store) CreatePet(ctx context.Context, p models.Pet) (models.Pet, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pets (owner_id, name, species, color, character_type, feature, state,
			hunger, energy, happiness, cleanliness, health, experience, is_deleted, is_lost,
			lost_at, search_started_at, health_zero_since, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.OwnerID, p.Name, p.Species, p.Color, string(p.Character), string(p.Feature), string(p.State),
		p.Hunger, p.Energy, p.Happiness, p.Cleanliness, p.Health, p.Experience, boolInt(p.IsDeleted), boolInt(p.IsLost),
		nullMillis(p.LostAt), nullMillis(p.SearchStartedAt), nullMillis(p.HealthZeroSince), millis(p.CreatedAt), millis(p.LastUpdated))
	if err != nil {
		return models.Pet{}, fmt.Errorf("insert pet: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return models.Pet{}, fmt.Errorf("pet id: %w", err)
	}
	return p, nil
}

func (s *Store) GetPet(ctx context.Context, id int64) (models.Pet, bool, error) {
	p, err := scanPet(s.db.QueryRowContext(ctx, `SELECT `+petColumns+` FROM pets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Pet{}, false, nil
	}
	if err != nil {
		return models.Pet{}, false, fmt.Errorf("scan pet: %w", err)
	}
	return p, true, nil
}

// ListActivePets returns pets that are neither deleted nor lost.
func (s *Store) ListActivePets(ctx context.Context) ([]models.Pet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+petColumns+` FROM pets WHERE is_deleted = 0 AND is_lost = 0 ORDER BY id
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
	_, err := s.db.ExecContext(ctx, `
		UPDATE pets
		SET state = ?, hunger = ?, energy = ?, happiness = ?, cleanliness = ?, health = ?, experience = ?,
		    is_deleted = ?, is_lost = ?, lost_at = ?, search_started_at = ?, health_zero_since = ?, last_updated = ?
		WHERE id = ?
	`, string(p.State), p.Hunger, p.Energy, p.Happiness, p.Cleanliness, p.Health, p.Experience,
		boolInt(p.IsDeleted), boolInt(p.IsLost), nullMillis(p.LostAt), nullMillis(p.SearchStartedAt),
		nullMillis(p.HealthZeroSince), millis(p.LastUpdated), p.ID)
	if err != nil {
		return fmt.Errorf("update pet %d: %w", p.ID, err)
	}
	return nil
}
