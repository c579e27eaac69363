package ledger

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
)

// StoreEntry is the bun model behind PgStore.
type StoreEntry struct {
	bun.BaseModel `bun:"table:ledger_store"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value"`
}

// PgStore persists hosted-ledger state in Postgres. Used when a demo
// ledger should survive restarts; tests and short-lived demos use
// MemoryStore instead.
type PgStore struct {
	db *bun.DB
}

func NewPgStore(ctx context.Context, db *bun.DB) (*PgStore, error) {
	_, err := db.NewCreateTable().Model((*StoreEntry)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return nil, err
	}
	return &PgStore{db: db}, nil
}

func (s *PgStore) Get(ctx context.Context, key string) (string, bool, error) {
	var entry StoreEntry
	err := s.db.NewSelect().Model(&entry).Where("key = ?", key).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.Value, true, nil
}

func (s *PgStore) Put(ctx context.Context, key, value string) error {
	entry := StoreEntry{Key: key, Value: value}
	_, err := s.db.NewInsert().Model(&entry).On("CONFLICT (key) DO UPDATE").Set("value = EXCLUDED.value").Exec(ctx)
	return err
}

func (s *PgStore) Del(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().Model((*StoreEntry)(nil)).Where("key = ?", key).Exec(ctx)
	return err
}
