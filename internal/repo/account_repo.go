package repo

import (
	"context"
	"fmt"

	"github.com/didi/gendry/builder"
	"github.com/lib/pq"

	"github.com/xxxsen/onboard/internal/model"
	"github.com/xxxsen/onboard/internal/pkg/dbutil"
	appErr "github.com/xxxsen/onboard/internal/pkg/errors"
)

var accountColumns = []string{"id", "name", "company_name", "email", "phone", "role", "password_hash", "verified", "verified_at", "ctime", "mtime"}

// partitionSQL holds the fixed SQL for one account table. The set is
// closed: nothing here is derived from request input.
type partitionSQL struct {
	table        string
	upsertSQL    string
	orphanDelSQL string
}

var partitionTables = map[model.Partition]partitionSQL{
	model.PartitionClient: newPartitionSQL("clients"),
	model.PartitionStaff:  newPartitionSQL("staff_users"),
	model.PartitionTeam:   newPartitionSQL("team_members"),
}

// Upserts never downgrade verified and never clear stored values with
// blanks, so replaying a commit is harmless. verified_at keeps the first
// verification and survives a bounce clearing verified.
func newPartitionSQL(table string) partitionSQL {
	upsert := fmt.Sprintf(`INSERT INTO %[1]s (id, name, company_name, email, phone, role, password_hash, verified, verified_at, ctime, mtime)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT (email) DO UPDATE SET
  name = COALESCE(NULLIF(EXCLUDED.name, ''), %[1]s.name),
  company_name = COALESCE(NULLIF(EXCLUDED.company_name, ''), %[1]s.company_name),
  phone = COALESCE(NULLIF(EXCLUDED.phone, ''), %[1]s.phone),
  password_hash = COALESCE(NULLIF(EXCLUDED.password_hash, ''), %[1]s.password_hash),
  verified = %[1]s.verified OR EXCLUDED.verified,
  verified_at = CASE WHEN %[1]s.verified_at > 0 THEN %[1]s.verified_at ELSE EXCLUDED.verified_at END,
  mtime = EXCLUDED.mtime
RETURNING id`, table)
	orphan := fmt.Sprintf(`DELETE FROM %[1]s
WHERE email = ANY($1) AND verified = FALSE AND verified_at = 0
  AND NOT EXISTS (SELECT 1 FROM project_members pm WHERE pm.email = %[1]s.email)`, table)
	return partitionSQL{table: table, upsertSQL: upsert, orphanDelSQL: orphan}
}

func sqlFor(partition model.Partition) (partitionSQL, error) {
	ps, ok := partitionTables[partition]
	if !ok {
		return partitionSQL{}, fmt.Errorf("%w: unknown partition %d", appErr.ErrInvalid, partition)
	}
	return ps, nil
}

type AccountRepo struct {
	db DBTX
}

func NewAccountRepo(db DBTX) *AccountRepo {
	return &AccountRepo{db: db}
}

func (r *AccountRepo) Upsert(ctx context.Context, account *model.Account) (string, error) {
	ps, err := sqlFor(account.Partition)
	if err != nil {
		return "", err
	}
	var verifiedAt int64
	if account.Verified {
		verifiedAt = account.Ctime
	}
	var id string
	err = r.db.QueryRowContext(ctx, ps.upsertSQL,
		account.ID, account.Name, account.CompanyName, account.Email, account.Phone,
		string(account.Role), account.PasswordHash, account.Verified, verifiedAt, account.Ctime,
	).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *AccountRepo) GetByEmail(ctx context.Context, partition model.Partition, email string) (*model.Account, error) {
	return r.get(ctx, partition, map[string]interface{}{"email": email})
}

func (r *AccountRepo) GetByID(ctx context.Context, partition model.Partition, id string) (*model.Account, error) {
	return r.get(ctx, partition, map[string]interface{}{"id": id})
}

func (r *AccountRepo) SetPassword(ctx context.Context, partition model.Partition, email, passwordHash string, markVerified bool, now int64) (int64, error) {
	update := map[string]interface{}{
		"password_hash": passwordHash,
		"mtime":         now,
	}
	if markVerified {
		update["verified"] = true
		update["verified_at"] = now
	}
	return r.update(ctx, partition, map[string]interface{}{"email": email}, update)
}

// SetVerified(false) leaves verified_at alone so a bounced account is
// still known to have been verified once.
func (r *AccountRepo) SetVerified(ctx context.Context, partition model.Partition, email string, verified bool, now int64) (int64, error) {
	update := map[string]interface{}{
		"verified": verified,
		"mtime":    now,
	}
	if verified {
		update["verified_at"] = now
	}
	return r.update(ctx, partition, map[string]interface{}{"email": email}, update)
}

// DeleteUnverified only removes accounts that were never verified.
func (r *AccountRepo) DeleteUnverified(ctx context.Context, partition model.Partition, email string) (int64, error) {
	ps, err := sqlFor(partition)
	if err != nil {
		return 0, err
	}
	where := map[string]interface{}{"email": email, "verified": false, "verified_at": 0}
	sqlStr, args, err := builder.BuildDelete(ps.table, where)
	if err != nil {
		return 0, err
	}
	return dbutil.Exec(ctx, r.db, sqlStr, args)
}

// DeleteUnverifiedOrphans removes never-verified accounts that no longer
// belong to any project.
func (r *AccountRepo) DeleteUnverifiedOrphans(ctx context.Context, partition model.Partition, emails []string) (int64, error) {
	if len(emails) == 0 {
		return 0, nil
	}
	ps, err := sqlFor(partition)
	if err != nil {
		return 0, err
	}
	return dbutil.Exec(ctx, r.db, ps.orphanDelSQL, []interface{}{pq.Array(emails)})
}

func (r *AccountRepo) get(ctx context.Context, partition model.Partition, where map[string]interface{}) (*model.Account, error) {
	ps, err := sqlFor(partition)
	if err != nil {
		return nil, err
	}
	sqlStr, args, err := builder.BuildSelect(ps.table, where, accountColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, appErr.ErrNotFound
	}
	var account model.Account
	var role string
	if err := rows.Scan(&account.ID, &account.Name, &account.CompanyName, &account.Email, &account.Phone,
		&role, &account.PasswordHash, &account.Verified, &account.VerifiedAt, &account.Ctime, &account.Mtime); err != nil {
		return nil, err
	}
	account.Partition = partition
	account.Role = model.Role(role)
	return &account, nil
}

func (r *AccountRepo) update(ctx context.Context, partition model.Partition, where, update map[string]interface{}) (int64, error) {
	ps, err := sqlFor(partition)
	if err != nil {
		return 0, err
	}
	sqlStr, args, err := builder.BuildUpdate(ps.table, where, update)
	if err != nil {
		return 0, err
	}
	return dbutil.Exec(ctx, r.db, sqlStr, args)
}

var _ AccountStore = (*AccountRepo)(nil)
