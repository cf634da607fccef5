package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/onboard/internal/model"
	"github.com/xxxsen/onboard/internal/pkg/dbutil"
)

const projectTable = "projects"

const insertProjectSQL = `INSERT INTO projects (id, name, location, contract_ref, client_id, ctime)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (name, client_id) DO NOTHING
RETURNING id`

const selectProjectIDSQL = `SELECT id FROM projects WHERE name = $1 AND client_id = $2`

const insertMemberSQL = `INSERT INTO project_members (project_id, email, role, member_id, ctime)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (project_id, email, role) DO NOTHING`

const removeMembersSQL = `DELETE FROM project_members WHERE project_id = $1
RETURNING project_id, email, role, member_id, ctime`

type ProjectRepo struct {
	db DBTX
}

func NewProjectRepo(db DBTX) *ProjectRepo {
	return &ProjectRepo{db: db}
}

// Ensure creates the project unless (name, client) already exists and
// returns the id of whichever row is stored.
func (r *ProjectRepo) Ensure(ctx context.Context, project *model.Project) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, insertProjectSQL,
		project.ID, project.Name, project.Location, project.ContractRef, project.ClientID, project.Ctime,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	if err := r.db.QueryRowContext(ctx, selectProjectIDSQL, project.Name, project.ClientID).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

func (r *ProjectRepo) AddMember(ctx context.Context, member *model.ProjectMember) (bool, error) {
	result, err := r.db.ExecContext(ctx, insertMemberSQL,
		member.ProjectID, member.Email, string(member.Role), member.MemberID, member.Ctime)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *ProjectRepo) ListByClient(ctx context.Context, clientID string) ([]*model.Project, error) {
	where := map[string]interface{}{"client_id": clientID, "_orderby": "ctime asc"}
	sqlStr, args, err := builder.BuildSelect(projectTable, where, []string{"id", "name", "location", "contract_ref", "client_id", "ctime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var projects []*model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Location, &p.ContractRef, &p.ClientID, &p.Ctime); err != nil {
			return nil, err
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

func (r *ProjectRepo) RemoveMembers(ctx context.Context, projectID string) ([]*model.ProjectMember, error) {
	rows, err := r.db.QueryContext(ctx, removeMembersSQL, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var members []*model.ProjectMember
	for rows.Next() {
		var m model.ProjectMember
		var role string
		if err := rows.Scan(&m.ProjectID, &m.Email, &role, &m.MemberID, &m.Ctime); err != nil {
			return nil, err
		}
		m.Role = model.Role(role)
		members = append(members, &m)
	}
	return members, rows.Err()
}

func (r *ProjectRepo) Delete(ctx context.Context, projectID string) (int64, error) {
	sqlStr, args, err := builder.BuildDelete(projectTable, map[string]interface{}{"id": projectID})
	if err != nil {
		return 0, err
	}
	return dbutil.Exec(ctx, r.db, sqlStr, args)
}

var _ ProjectStore = (*ProjectRepo)(nil)
