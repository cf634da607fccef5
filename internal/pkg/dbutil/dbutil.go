package dbutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appErr "github.com/xxxsen/onboard/internal/pkg/errors"
)

const pgUniqueViolation = "23505"

var limitRegex = regexp.MustCompile(`(?i)LIMIT\s+\?\s*,\s*\?`)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Finalize turns gendry output into postgres SQL. gendry renders
// "LIMIT offset,count"; postgres wants "LIMIT count OFFSET offset", and
// placeholders become $N.
func Finalize(query string, args []interface{}) (string, []interface{}) {
	if loc := limitRegex.FindStringIndex(query); loc != nil {
		i := strings.Count(query[:loc[0]], "?")
		if i+1 < len(args) {
			args[i], args[i+1] = args[i+1], args[i]
			query = limitRegex.ReplaceAllString(query, "LIMIT ? OFFSET ?")
		}
	}
	return sqlx.Rebind(sqlx.DOLLAR, query), args
}

// Exec finalizes a built statement, runs it and reports affected rows.
func Exec(ctx context.Context, db Execer, query string, args []interface{}) (int64, error) {
	query, args = Finalize(query, args)
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, TranslateConflict(err)
	}
	return result.RowsAffected()
}

// IsConflict reports a unique violation. With names given, only violations
// of those constraints count.
func IsConflict(err error, constraints ...string) bool {
	var pgErr *pq.Error
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return false
	}
	if len(constraints) == 0 {
		return true
	}
	for _, name := range constraints {
		if pgErr.Constraint == name {
			return true
		}
	}
	return false
}

// TranslateConflict marks a unique violation as ErrConflict and keeps the
// driver error in the chain, so IsConflict can still match constraints.
// Other errors pass through.
func TranslateConflict(err error) error {
	if !IsConflict(err) {
		return err
	}
	return fmt.Errorf("%w: %w", appErr.ErrConflict, err)
}
