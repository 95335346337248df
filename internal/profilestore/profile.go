package profilestore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Profile is the persisted row backing internal/broker.Profile plus the
// launcher-facing fields (image, memory cost) the core's Profile type
// itself has no need to carry.
type Profile struct {
	Name                       string    `db:"name"`
	Image                      string    `db:"image"`
	MaxActivateRequests        int       `db:"max_activate_requests"`
	Disposable                 bool      `db:"disposable"`
	RateLimitEnabled           bool      `db:"rate_limit_enabled"`
	TokensPerFill              int       `db:"tokens_per_fill"`
	FillIntervalMs             int64     `db:"fill_interval_ms"`
	MaxTokens                  int       `db:"max_tokens"`
	QueueEnabled               bool      `db:"queue_enabled"`
	InitializationTimeoutMs    int64     `db:"initialization_timeout_ms"`
	FastFailRequestsOnStarting bool      `db:"fast_fail_requests_on_starting"`
	ShrinkStrategy             string    `db:"shrink_strategy"`
	ReservationCount           int       `db:"reservation_count"`
	CPUCores                   float64   `db:"cpu_cores"`
	MemoryMB                   int64     `db:"memory_mb"`
	CreatedAt                  time.Time `db:"created_at"`
	UpdatedAt                  time.Time `db:"updated_at"`
}

// FillInterval and InitializationTimeout convert the persisted millisecond
// columns to time.Duration for internal/broker.Profile construction.
func (p Profile) FillInterval() time.Duration          { return time.Duration(p.FillIntervalMs) * time.Millisecond }
func (p Profile) InitializationTimeout() time.Duration { return time.Duration(p.InitializationTimeoutMs) * time.Millisecond }

// Store persists Profiles, grounded on control/internal/db's
// workerRepository (interface-over-sqlx, NamedExec for writes, Get/Select
// for reads, sql.ErrNoRows mapped to a descriptive error).
type Store interface {
	GetProfile(name string) (Profile, error)
	PutProfile(p Profile) error
	ListProfiles() ([]Profile, error)
	DeleteProfile(name string) error
}

type sqliteStore struct {
	db *sqlx.DB
}

// NewStore wraps db as a Store.
func NewStore(db *sqlx.DB) Store {
	return &sqliteStore{db: db}
}

func (s *sqliteStore) GetProfile(name string) (Profile, error) {
	var p Profile
	err := s.db.Get(&p, `SELECT * FROM profiles WHERE name = ?`, name)
	if err != nil {
		if err == sql.ErrNoRows {
			return Profile{}, fmt.Errorf("profilestore: no profile named %q", name)
		}
		return Profile{}, fmt.Errorf("profilestore: get %q: %w", name, err)
	}
	return p, nil
}

func (s *sqliteStore) PutProfile(p Profile) error {
	now := time.Now()
	p.UpdatedAt = now
	query := `
		INSERT INTO profiles (
			name, image, max_activate_requests, disposable, rate_limit_enabled,
			tokens_per_fill, fill_interval_ms, max_tokens, queue_enabled,
			initialization_timeout_ms, fast_fail_requests_on_starting,
			shrink_strategy, reservation_count, cpu_cores, memory_mb,
			created_at, updated_at
		) VALUES (
			:name, :image, :max_activate_requests, :disposable, :rate_limit_enabled,
			:tokens_per_fill, :fill_interval_ms, :max_tokens, :queue_enabled,
			:initialization_timeout_ms, :fast_fail_requests_on_starting,
			:shrink_strategy, :reservation_count, :cpu_cores, :memory_mb,
			:created_at, :updated_at
		)
		ON CONFLICT(name) DO UPDATE SET
			image = excluded.image,
			max_activate_requests = excluded.max_activate_requests,
			disposable = excluded.disposable,
			rate_limit_enabled = excluded.rate_limit_enabled,
			tokens_per_fill = excluded.tokens_per_fill,
			fill_interval_ms = excluded.fill_interval_ms,
			max_tokens = excluded.max_tokens,
			queue_enabled = excluded.queue_enabled,
			initialization_timeout_ms = excluded.initialization_timeout_ms,
			fast_fail_requests_on_starting = excluded.fast_fail_requests_on_starting,
			shrink_strategy = excluded.shrink_strategy,
			reservation_count = excluded.reservation_count,
			cpu_cores = excluded.cpu_cores,
			memory_mb = excluded.memory_mb,
			updated_at = excluded.updated_at
	`
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if _, err := s.db.NamedExec(query, p); err != nil {
		return fmt.Errorf("profilestore: put %q: %w", p.Name, err)
	}
	return nil
}

func (s *sqliteStore) ListProfiles() ([]Profile, error) {
	var profiles []Profile
	if err := s.db.Select(&profiles, `SELECT * FROM profiles ORDER BY name`); err != nil {
		return nil, fmt.Errorf("profilestore: list: %w", err)
	}
	return profiles, nil
}

func (s *sqliteStore) DeleteProfile(name string) error {
	result, err := s.db.Exec(`DELETE FROM profiles WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("profilestore: delete %q: %w", name, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("profilestore: delete %q: rows affected: %w", name, err)
	}
	if rows == 0 {
		return fmt.Errorf("profilestore: no profile named %q", name)
	}
	return nil
}
