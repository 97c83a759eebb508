package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/copygrid/trade-relay/internal/relay"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore is the database-backed durable backend. Records are stored
// whole as JSONB rows (one per group log, one for the registry) and replaced
// by upsert, so its durability contract matches the file backend: a record
// is either the previous version or the new one, never a partial write.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a connection pool, fails fast if the database is
// unreachable and applies the schema. Safe to run multiple times.
func NewPostgres(ctx context.Context, dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Load(ctx context.Context) (*relay.PersistedState, error) {
	state := &relay.PersistedState{Groups: make(map[string]*relay.GroupRecord)}

	rows, err := s.pool.Query(ctx, `SELECT record FROM relay_groups`)
	if err != nil {
		return nil, fmt.Errorf("query group records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan group record: %w", err)
		}
		var rec relay.GroupRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode group record: %w", err)
		}
		state.Groups[rec.Group] = &rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group records: %w", err)
	}

	var data []byte
	err = s.pool.QueryRow(ctx, `SELECT record FROM relay_registry WHERE id = 1`).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return state, nil
		}
		return nil, fmt.Errorf("query registry record: %w", err)
	}
	var reg relay.RegistryRecord
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("decode registry record: %w", err)
	}
	state.Registry = &reg
	return state, nil
}

func (s *PostgresStore) SaveGroup(ctx context.Context, rec *relay.GroupRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode group record: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO relay_groups(group_id, record, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (group_id) DO UPDATE SET record = EXCLUDED.record, updated_at = now()
	`, rec.Group, data)
	if err != nil {
		return fmt.Errorf("upsert group record: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRegistry(ctx context.Context, rec *relay.RegistryRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode registry record: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO relay_registry(id, record, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET record = EXCLUDED.record, updated_at = now()
	`, data)
	if err != nil {
		return fmt.Errorf("upsert registry record: %w", err)
	}
	return nil
}

// Ping is used by the readiness endpoint to validate connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
