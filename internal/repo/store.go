package repo

import (
	"context"
	"database/sql"

	"github.com/xxxsen/onboard/internal/model"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ConsumeQuery selects the token a submitted code is checked against.
// An empty SessionID matches any episode of the flow.
type ConsumeQuery struct {
	Email       string
	Flow        string
	SessionID   string
	CodeHash    string
	MaxFailures int
}

type TokenStore interface {
	Create(ctx context.Context, token *model.VerificationToken) error
	Latest(ctx context.Context, email, flow string) (*model.VerificationToken, error)
	Supersede(ctx context.Context, email, flow string, now int64) (int64, error)
	Consume(ctx context.Context, q ConsumeQuery, now int64) (*model.VerificationToken, error)
	FindVerified(ctx context.Context, email, flow, sessionID, codeHash string) (*model.VerificationToken, error)
	RecordFailure(ctx context.Context, email, flow, sessionID string, now int64) (int64, error)
	DeleteByEmail(ctx context.Context, email, flow string) (int64, error)
	DeleteExpired(ctx context.Context, before int64) (int64, error)
}

type AccountStore interface {
	Upsert(ctx context.Context, account *model.Account) (string, error)
	GetByEmail(ctx context.Context, partition model.Partition, email string) (*model.Account, error)
	GetByID(ctx context.Context, partition model.Partition, id string) (*model.Account, error)
	SetPassword(ctx context.Context, partition model.Partition, email, passwordHash string, markVerified bool, now int64) (int64, error)
	SetVerified(ctx context.Context, partition model.Partition, email string, verified bool, now int64) (int64, error)
	DeleteUnverified(ctx context.Context, partition model.Partition, email string) (int64, error)
	DeleteUnverifiedOrphans(ctx context.Context, partition model.Partition, emails []string) (int64, error)
}

type ProjectStore interface {
	Ensure(ctx context.Context, project *model.Project) (string, error)
	AddMember(ctx context.Context, member *model.ProjectMember) (bool, error)
	ListByClient(ctx context.Context, clientID string) ([]*model.Project, error)
	RemoveMembers(ctx context.Context, projectID string) ([]*model.ProjectMember, error)
	Delete(ctx context.Context, projectID string) (int64, error)
}

// Store groups the repositories bound to one connection or transaction.
type Store interface {
	Tokens() TokenStore
	Accounts() AccountStore
	Projects() ProjectStore
}

// Manager runs multi-statement work atomically.
type Manager interface {
	Store
	InTx(ctx context.Context, fn func(store Store) error) error
	Ping(ctx context.Context) error
}
