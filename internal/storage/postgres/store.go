package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// opTimeout ограничивает один запрос репозитория.
const opTimeout = 5 * time.Second

const (
	applicationName = "flashsale"
	pingTimeout     = 5 * time.Second
)

var errStoreClosed = errors.New("postgres store is not initialized")

// Store оборачивает пул соединений pgx через database/sql.
type Store struct {
	db *sql.DB
}

type poolSettings struct {
	maxConns    int
	maxLifetime time.Duration
	maxIdleTime time.Duration
}

// Option настраивает пул соединений.
type Option func(*poolSettings)

// WithMaxConns ограничивает число открытых и простаивающих соединений.
func WithMaxConns(n int) Option {
	return func(s *poolSettings) {
		if n > 0 {
			s.maxConns = n
		}
	}
}

// WithConnLifetime задаёт, сколько соединение живёт и сколько может простаивать.
func WithConnLifetime(lifetime, idle time.Duration) Option {
	return func(s *poolSettings) {
		if lifetime > 0 {
			s.maxLifetime = lifetime
		}
		if idle > 0 {
			s.maxIdleTime = idle
		}
	}
}

// Open разбирает DSN, открывает пул и проверяет доступность базы.
// Сессии помечаются application_name=flashsale, если DSN не задаёт своё.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	settings := poolSettings{maxConns: 25, maxLifetime: 30 * time.Minute, maxIdleTime: 5 * time.Minute}
	for _, opt := range opts {
		opt(&settings)
	}

	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if _, ok := connCfg.RuntimeParams["application_name"]; !ok {
		connCfg.RuntimeParams["application_name"] = applicationName
	}

	db := stdlib.OpenDB(*connCfg)
	db.SetMaxOpenConns(settings.maxConns)
	db.SetMaxIdleConns(settings.maxConns)
	db.SetConnMaxLifetime(settings.maxLifetime)
	db.SetConnMaxIdleTime(settings.maxIdleTime)

	store := &Store{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// DB возвращает пул для миграций и тестов.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreClosed
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// EnsureSchema применяет все ожидающие миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
