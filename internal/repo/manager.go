package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type PostgresManager struct {
	db *sql.DB
}

func NewManager(db *sql.DB) *PostgresManager {
	return &PostgresManager{db: db}
}

type boundStore struct {
	conn DBTX
}

func (s boundStore) Tokens() TokenStore {
	return NewTokenRepo(s.conn)
}

func (s boundStore) Accounts() AccountStore {
	return NewAccountRepo(s.conn)
}

func (s boundStore) Projects() ProjectStore {
	return NewProjectRepo(s.conn)
}

func (m *PostgresManager) Tokens() TokenStore {
	return NewTokenRepo(m.db)
}

func (m *PostgresManager) Accounts() AccountStore {
	return NewAccountRepo(m.db)
}

func (m *PostgresManager) Projects() ProjectStore {
	return NewProjectRepo(m.db)
}

func (m *PostgresManager) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *PostgresManager) InTx(ctx context.Context, fn func(store Store) error) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(boundStore{conn: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logutil.GetLogger(ctx).Error("rollback tx failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

var _ Manager = (*PostgresManager)(nil)
