package store

import (
	"context"
	"fmt"
	"time"

	"petsim/internal/config"
	"petsim/internal/jobqueue"
	"petsim/internal/models"
	"petsim/internal/store/sqlite"
)

// Backend is everything the worker, the admin API and petctl need from storage.
// Both the Postgres Store and the SQLite store satisfy it.
type Backend interface {
	jobqueue.Store

	CreateOwner(ctx context.Context, o models.Owner) (models.Owner, error)
	GetOwner(ctx context.Context, id int64) (models.Owner, bool, error)
	CreatePet(ctx context.Context, p models.Pet) (models.Pet, error)
	GetPet(ctx context.Context, id int64) (models.Pet, bool, error)
	ListActivePets(ctx context.Context) ([]models.Pet, error)
	SavePet(ctx context.Context, p models.Pet) error

	CreateChat(ctx context.Context, c models.Chat) (models.Chat, error)
	IdleChats(ctx context.Context, before time.Time) ([]models.Chat, error)
	RecentMessages(ctx context.Context, chatID int64, limit int) ([]models.Message, error)
	AddMessage(ctx context.Context, m models.Message) (models.Message, error)

	EnqueueEmail(ctx context.Context, e models.Email) (models.Email, error)
	ClaimEmails(ctx context.Context, now time.Time, limit int) ([]models.Email, error)
	UpdateEmail(ctx context.Context, id int64, u models.EmailUpdate) error
	ResetStaleEmails(ctx context.Context, cutoff, now time.Time) (int64, error)
	GetEmail(ctx context.Context, id int64) (models.Email, bool, error)

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*sqlite.Store)(nil)
)

// Open connects to the backend named by cfg.DatabaseDriver and applies migrations.
func Open(ctx context.Context, cfg config.Config) (Backend, error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		st, err := New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
}
