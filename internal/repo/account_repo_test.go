package repo

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/onboard/internal/model"
	appErr "github.com/xxxsen/onboard/internal/pkg/errors"
)

func TestPartitionTablesAreFixed(t *testing.T) {
	require.Equal(t, "clients", partitionTables[model.PartitionClient].table)
	require.Equal(t, "staff_users", partitionTables[model.PartitionStaff].table)
	require.Equal(t, "team_members", partitionTables[model.PartitionTeam].table)
	_, err := sqlFor(model.Partition(42))
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestAccountRepoUpsertClient(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`(?s)^INSERT INTO clients .*ON CONFLICT \(email\) DO UPDATE SET.*verified = clients.verified OR EXCLUDED.verified.*verified_at = CASE WHEN clients.verified_at > 0.*RETURNING id$`).
		WithArgs("new-id", "Rep", "Acme", "a@b.com", "555", "client", "", true, int64(100), int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("existing-id"))

	id, err := NewAccountRepo(db).Upsert(context.Background(), &model.Account{
		ID: "new-id", Partition: model.PartitionClient, Role: model.RoleClient,
		Name: "Rep", CompanyName: "Acme", Email: "a@b.com", Phone: "555",
		Verified: true, Ctime: 100,
	})
	require.NoError(t, err)
	require.Equal(t, "existing-id", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepoUpsertUnverifiedLeavesVerifiedAtZero(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`(?s)^INSERT INTO team_members `).
		WithArgs("tm-1", "", "", "t@b.com", "", "team_member", "", false, int64(0), int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("tm-1"))

	_, err := NewAccountRepo(db).Upsert(context.Background(), &model.Account{
		ID: "tm-1", Partition: model.PartitionTeam, Role: model.RoleTeamMember,
		Email: "t@b.com", Ctime: 100,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepoGetByEmail(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`(?s)^SELECT .* FROM team_members WHERE`).
		WillReturnRows(sqlmock.NewRows(accountColumns).
			AddRow("tm-1", "Tess", "", "t@b.com", "", "team_member", "", false, int64(50), int64(1), int64(1)))

	account, err := NewAccountRepo(db).GetByEmail(context.Background(), model.PartitionTeam, "t@b.com")
	require.NoError(t, err)
	require.Equal(t, model.PartitionTeam, account.Partition)
	require.Equal(t, model.RoleTeamMember, account.Role)
	require.False(t, account.HasPassword())
	require.False(t, account.Verified)
	require.True(t, account.EverVerified())
}

func TestAccountRepoGetByEmailNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`(?s)^SELECT .* FROM staff_users WHERE`).WillReturnRows(sqlmock.NewRows(accountColumns))

	_, err := NewAccountRepo(db).GetByEmail(context.Background(), model.PartitionStaff, "x@b.com")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestAccountRepoSetVerifiedAndPassword(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`^UPDATE clients SET mtime=\$1,verified=\$2 WHERE`).
		WithArgs(int64(100), false, "a@b.com").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`^UPDATE staff_users SET mtime=\$1,password_hash=\$2,verified=\$3,verified_at=\$4 WHERE`).
		WithArgs(int64(100), "hash", true, int64(100), "a@b.com").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`^UPDATE clients SET mtime=\$1,verified=\$2,verified_at=\$3 WHERE`).
		WithArgs(int64(200), true, int64(200), "a@b.com").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewAccountRepo(db)
	n, err := repo.SetVerified(context.Background(), model.PartitionClient, "a@b.com", false, 100)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	n, err = repo.SetPassword(context.Background(), model.PartitionStaff, "a@b.com", "hash", true, 100)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
	n, err = repo.SetVerified(context.Background(), model.PartitionClient, "a@b.com", true, 200)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepoDeleteUnverifiedSkipsOnceVerified(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`^DELETE FROM clients WHERE .*email=\$1.*verified=\$2.*verified_at=\$3`).
		WithArgs("a@b.com", false, 0).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := NewAccountRepo(db).DeleteUnverified(context.Background(), model.PartitionClient, "a@b.com")
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepoDeleteUnverifiedOrphans(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`(?s)^DELETE FROM staff_users\s+WHERE email = ANY\(\$1\) AND verified = FALSE AND verified_at = 0.*NOT EXISTS`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	repo := NewAccountRepo(db)
	n, err := repo.DeleteUnverifiedOrphans(context.Background(), model.PartitionStaff, []string{"c@b.com", "d@b.com"})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	n, err = repo.DeleteUnverifiedOrphans(context.Background(), model.PartitionStaff, nil)
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
