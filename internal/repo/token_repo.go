package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/onboard/internal/model"
	"github.com/xxxsen/onboard/internal/pkg/dbutil"
	appErr "github.com/xxxsen/onboard/internal/pkg/errors"
)

const tokenTable = "verification_tokens"

// Partial unique indexes allowing one active token per session and per
// (email, flow).
var activeTokenIndexes = []string{"uniq_verification_tokens_active", "uniq_verification_tokens_active_flow"}

var tokenColumns = []string{
	"id", "email", "flow", "session_id", "code_hash", "pending_secret", "payload",
	"attempts", "failures", "verified", "superseded", "ctime", "mtime", "expires_at",
}

// The verified=FALSE guard is re-checked by postgres against the latest row
// version, so two concurrent submissions of one code cannot both succeed.
const consumeTokenSQL = `UPDATE verification_tokens SET verified = TRUE, mtime = $1
WHERE email = $2 AND flow = $3 AND code_hash = $4
  AND verified = FALSE AND superseded = FALSE
  AND expires_at > $1 AND failures < $5`

const recordFailureSQL = `UPDATE verification_tokens SET failures = failures + 1, mtime = $1
WHERE email = $2 AND flow = $3
  AND verified = FALSE AND superseded = FALSE AND expires_at > $1`

type TokenRepo struct {
	db DBTX
}

func NewTokenRepo(db DBTX) *TokenRepo {
	return &TokenRepo{db: db}
}

func (r *TokenRepo) Create(ctx context.Context, token *model.VerificationToken) error {
	data := map[string]interface{}{
		"id":             token.ID,
		"email":          token.Email,
		"flow":           token.Flow,
		"session_id":     token.SessionID,
		"code_hash":      token.CodeHash,
		"pending_secret": token.PendingSecret,
		"payload":        string(token.Payload),
		"attempts":       token.Attempts,
		"failures":       token.Failures,
		"verified":       token.Verified,
		"superseded":     token.Superseded,
		"ctime":          token.Ctime,
		"mtime":          token.Mtime,
		"expires_at":     token.ExpiresAt,
	}
	sqlStr, args, err := builder.BuildInsert(tokenTable, []map[string]interface{}{data})
	if err != nil {
		return err
	}
	_, err = dbutil.Exec(ctx, r.db, sqlStr, args)
	if appErr.IsConflict(err) && !dbutil.IsConflict(err, activeTokenIndexes...) {
		// an id collision is not a concurrent issue
		return fmt.Errorf("insert token %s: %v", token.ID, err)
	}
	return err
}

func (r *TokenRepo) Latest(ctx context.Context, email, flow string) (*model.VerificationToken, error) {
	where := map[string]interface{}{
		"email":    email,
		"flow":     flow,
		"_orderby": "ctime desc, attempts desc",
		"_limit":   []uint{0, 1},
	}
	return r.selectOne(ctx, where)
}

func (r *TokenRepo) FindVerified(ctx context.Context, email, flow, sessionID, codeHash string) (*model.VerificationToken, error) {
	where := map[string]interface{}{
		"email":     email,
		"flow":      flow,
		"code_hash": codeHash,
		"verified":  true,
		"_limit":    []uint{0, 1},
	}
	if sessionID != "" {
		where["session_id"] = sessionID
	}
	return r.selectOne(ctx, where)
}

// Supersede retires every active token of the flow. At most one exists
// once uniq_verification_tokens_active_flow is in place.
func (r *TokenRepo) Supersede(ctx context.Context, email, flow string, now int64) (int64, error) {
	where := map[string]interface{}{
		"email":      email,
		"flow":       flow,
		"verified":   false,
		"superseded": false,
	}
	update := map[string]interface{}{
		"superseded": true,
		"mtime":      now,
	}
	sqlStr, args, err := builder.BuildUpdate(tokenTable, where, update)
	if err != nil {
		return 0, err
	}
	return dbutil.Exec(ctx, r.db, sqlStr, args)
}

// Consume flips the matching active token to verified and returns it.
// ErrNotFound means nothing was consumed: wrong code, expired, superseded,
// over the failure cap or already verified.
func (r *TokenRepo) Consume(ctx context.Context, q ConsumeQuery, now int64) (*model.VerificationToken, error) {
	sqlStr := consumeTokenSQL
	args := []interface{}{now, q.Email, q.Flow, q.CodeHash, q.MaxFailures}
	if q.SessionID != "" {
		sqlStr += " AND session_id = $6"
		args = append(args, q.SessionID)
	}
	sqlStr += " RETURNING " + strings.Join(tokenColumns, ", ")
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
	token, err := scanToken(rows)
	if err != nil {
		return nil, err
	}
	return token, rows.Err()
}

func (r *TokenRepo) RecordFailure(ctx context.Context, email, flow, sessionID string, now int64) (int64, error) {
	sqlStr := recordFailureSQL
	args := []interface{}{now, email, flow}
	if sessionID != "" {
		sqlStr += " AND session_id = $4"
		args = append(args, sessionID)
	}
	return dbutil.Exec(ctx, r.db, sqlStr, args)
}

func (r *TokenRepo) DeleteByEmail(ctx context.Context, email, flow string) (int64, error) {
	where := map[string]interface{}{"email": email, "flow": flow}
	sqlStr, args, err := builder.BuildDelete(tokenTable, where)
	if err != nil {
		return 0, err
	}
	return dbutil.Exec(ctx, r.db, sqlStr, args)
}

func (r *TokenRepo) DeleteExpired(ctx context.Context, before int64) (int64, error) {
	where := map[string]interface{}{"expires_at <": before}
	sqlStr, args, err := builder.BuildDelete(tokenTable, where)
	if err != nil {
		return 0, err
	}
	return dbutil.Exec(ctx, r.db, sqlStr, args)
}

func (r *TokenRepo) selectOne(ctx context.Context, where map[string]interface{}) (*model.VerificationToken, error) {
	sqlStr, args, err := builder.BuildSelect(tokenTable, where, tokenColumns)
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
	return scanToken(rows)
}

func scanToken(rows *sql.Rows) (*model.VerificationToken, error) {
	var token model.VerificationToken
	var payload string
	if err := rows.Scan(
		&token.ID, &token.Email, &token.Flow, &token.SessionID, &token.CodeHash, &token.PendingSecret, &payload,
		&token.Attempts, &token.Failures, &token.Verified, &token.Superseded, &token.Ctime, &token.Mtime, &token.ExpiresAt,
	); err != nil {
		return nil, err
	}
	if payload != "" {
		token.Payload = []byte(payload)
	}
	return &token, nil
}

var _ TokenStore = (*TokenRepo)(nil)
