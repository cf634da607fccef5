package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/onboard/internal/event"
	"github.com/xxxsen/onboard/internal/model"
	appErr "github.com/xxxsen/onboard/internal/pkg/errors"
	"github.com/xxxsen/onboard/internal/pkg/password"
	"github.com/xxxsen/onboard/internal/repo"
)

type RollbackResult struct {
	ClientDeleted   bool
	ProjectsDeleted int
	MembersDeleted  int64
	TokensDeleted   int64
}

// AccountService materializes a staged signup graph. All writes go through
// idempotent upserts so a replayed commit leaves exactly one row each.
type AccountService struct {
	manager   repo.Manager
	publisher event.Publisher
	validate  *validator.Validate
	now       func() time.Time
}

func NewAccountService(manager repo.Manager, publisher event.Publisher) *AccountService {
	return &AccountService{
		manager:   manager,
		publisher: publisher,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// Stage validates a signup and encodes it for the token store. A staged
// password is hashed and returned separately; the payload never holds it.
func (s *AccountService) Stage(ctx context.Context, staged *model.StagedSignup) ([]byte, string, error) {
	if err := s.check(staged); err != nil {
		return nil, "", err
	}
	var secret string
	if staged.Client.Password != "" {
		hash, err := password.Hash(staged.Client.Password)
		if err != nil {
			return nil, "", err
		}
		secret = hash
	}
	cp := *staged
	cp.Client.Password = ""
	payload, err := json.Marshal(&cp)
	if err != nil {
		return nil, "", fmt.Errorf("encode staged signup: %w", err)
	}
	return payload, secret, nil
}

// Finalize commits a staged signup in its own transaction.
func (s *AccountService) Finalize(ctx context.Context, staged *model.StagedSignup) (string, error) {
	if err := s.check(staged); err != nil {
		return "", err
	}
	var passwordHash string
	if staged.Client.Password != "" {
		hash, err := password.Hash(staged.Client.Password)
		if err != nil {
			return "", err
		}
		passwordHash = hash
	}
	var clientID string
	err := s.manager.InTx(ctx, func(store repo.Store) error {
		id, err := s.commitGraph(ctx, store, staged, passwordHash)
		if err != nil {
			return err
		}
		clientID = id
		return nil
	})
	if err != nil {
		return "", err
	}
	publish(ctx, s.publisher, event.Event{
		Type:      event.TypeAccountCommitted,
		Email:     staged.Client.Email,
		AccountID: clientID,
		Role:      string(model.RoleClient),
		At:        s.now().Unix(),
	})
	return clientID, nil
}

// Commit is the signup committer. Data staged server side wins over data
// carried in the verify request. Without any staged data the episode can
// only re-confirm an existing client, which is how a bounced address
// recovers.
func (s *AccountService) Commit(ctx context.Context, store repo.Store, token *model.VerificationToken, staged *model.StagedSignup) (string, error) {
	if len(token.Payload) > 0 {
		var stored model.StagedSignup
		if err := json.Unmarshal(token.Payload, &stored); err != nil {
			return "", fmt.Errorf("decode staged signup: %w", err)
		}
		staged = &stored
	}
	if staged == nil {
		return s.reverify(ctx, store, token.Email)
	}
	if err := s.check(staged); err != nil {
		return "", err
	}
	if staged.Client.Email != token.Email {
		return "", fmt.Errorf("%w: staged email does not match verified email", appErr.ErrInvalid)
	}
	passwordHash := token.PendingSecret
	if passwordHash == "" && staged.Client.Password != "" {
		hash, err := password.Hash(staged.Client.Password)
		if err != nil {
			return "", err
		}
		passwordHash = hash
	}
	return s.commitGraph(ctx, store, staged, passwordHash)
}

func (s *AccountService) reverify(ctx context.Context, store repo.Store, email string) (string, error) {
	client, err := store.Accounts().GetByEmail(ctx, model.PartitionClient, email)
	if appErr.IsNotFound(err) {
		return "", fmt.Errorf("%w: no staged signup for %s", appErr.ErrInvalid, email)
	}
	if err != nil {
		return "", err
	}
	if _, err := store.Accounts().SetVerified(ctx, model.PartitionClient, email, true, s.now().Unix()); err != nil {
		return "", err
	}
	logutil.GetLogger(ctx).Info("client address re-verified", zap.String("email", email))
	return client.ID, nil
}

func (s *AccountService) commitGraph(ctx context.Context, store repo.Store, staged *model.StagedSignup, passwordHash string) (string, error) {
	now := s.now().Unix()
	clientID, err := store.Accounts().Upsert(ctx, &model.Account{
		ID:           newID(),
		Partition:    model.PartitionClient,
		Role:         model.RoleClient,
		Name:         staged.Client.RepresentativeName,
		CompanyName:  staged.Client.CompanyName,
		Email:        staged.Client.Email,
		Phone:        staged.Client.Phone,
		PasswordHash: passwordHash,
		Verified:     true,
		Ctime:        now,
	})
	if err != nil {
		return "", fmt.Errorf("upsert client: %w", err)
	}
	members := stagedMembers(staged)
	if staged.Project == nil || staged.Project.Name == "" {
		if len(members) > 0 {
			logutil.GetLogger(ctx).Warn("members staged without a project, skipped",
				zap.String("email", staged.Client.Email),
				zap.Int("count", len(members)),
			)
		}
		return clientID, nil
	}
	projectID, err := store.Projects().Ensure(ctx, &model.Project{
		ID:          newID(),
		Name:        staged.Project.Name,
		Location:    staged.Project.Location,
		ContractRef: staged.Project.ContractRef,
		ClientID:    clientID,
		Ctime:       now,
	})
	if err != nil {
		return "", fmt.Errorf("ensure project: %w", err)
	}
	for _, m := range members {
		memberID, err := store.Accounts().Upsert(ctx, &model.Account{
			ID:          newID(),
			Partition:   m.role.Partition(),
			Role:        m.role,
			Name:        m.Name,
			CompanyName: m.Company,
			Email:       m.Email,
			Phone:       m.Phone,
			Ctime:       now,
		})
		if err != nil {
			return "", fmt.Errorf("upsert %s: %w", m.role, err)
		}
		if _, err := store.Projects().AddMember(ctx, &model.ProjectMember{
			ProjectID: projectID,
			Email:     m.Email,
			Role:      m.role,
			MemberID:  memberID,
			Ctime:     now,
		}); err != nil {
			return "", fmt.Errorf("add %s to project: %w", m.role, err)
		}
	}
	return clientID, nil
}

// Rollback removes the signup graph of a never-verified email: memberships,
// members left without any project, projects and finally the client. A
// client that was verified once keeps its graph even if a bounce cleared
// the flag; only the pending tokens go.
func (s *AccountService) Rollback(ctx context.Context, email string) (*RollbackResult, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email", appErr.ErrInvalid)
	}
	result := &RollbackResult{}
	err := s.manager.InTx(ctx, func(store repo.Store) error {
		*result = RollbackResult{}
		if err := s.rollbackClient(ctx, store, email, result); err != nil {
			return err
		}
		n, err := store.Tokens().DeleteByEmail(ctx, email, model.FlowSignup)
		if err != nil {
			return err
		}
		result.TokensDeleted = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("signup rolled back",
		zap.String("email", email),
		zap.Bool("client_deleted", result.ClientDeleted),
		zap.Int("projects_deleted", result.ProjectsDeleted),
		zap.Int64("members_deleted", result.MembersDeleted),
	)
	publish(ctx, s.publisher, event.Event{
		Type:   event.TypeSignupRolledBack,
		Email:  email,
		Reason: "resend limit reached",
		At:     s.now().Unix(),
	})
	return result, nil
}

func (s *AccountService) rollbackClient(ctx context.Context, store repo.Store, email string, result *RollbackResult) error {
	client, err := store.Accounts().GetByEmail(ctx, model.PartitionClient, email)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil
		}
		return err
	}
	if client.EverVerified() {
		return nil
	}
	projects, err := store.Projects().ListByClient(ctx, client.ID)
	if err != nil {
		return err
	}
	touched := make(map[model.Partition][]string)
	for _, p := range projects {
		members, err := store.Projects().RemoveMembers(ctx, p.ID)
		if err != nil {
			return err
		}
		for _, m := range members {
			part := m.Role.Partition()
			touched[part] = append(touched[part], m.Email)
		}
		if _, err := store.Projects().Delete(ctx, p.ID); err != nil {
			return err
		}
		result.ProjectsDeleted++
	}
	for _, part := range []model.Partition{model.PartitionStaff, model.PartitionTeam} {
		n, err := store.Accounts().DeleteUnverifiedOrphans(ctx, part, touched[part])
		if err != nil {
			return err
		}
		result.MembersDeleted += n
	}
	n, err := store.Accounts().DeleteUnverified(ctx, model.PartitionClient, email)
	if err != nil {
		return err
	}
	result.ClientDeleted = n > 0
	return nil
}

func (s *AccountService) check(staged *model.StagedSignup) error {
	if staged == nil {
		return fmt.Errorf("%w: signup", appErr.ErrInvalid)
	}
	normalizeStaged(staged)
	if err := s.validate.Struct(staged); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s", appErr.ErrInvalid, fieldName(verrs[0]))
		}
		return fmt.Errorf("%w: %v", appErr.ErrInvalid, err)
	}
	return nil
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		ns = ns[idx+1:]
	}
	return strings.ToLower(ns)
}

func normalizeStaged(staged *model.StagedSignup) {
	staged.Client.Email = normalizeEmail(staged.Client.Email)
	if staged.Contractor != nil {
		staged.Contractor.Email = normalizeEmail(staged.Contractor.Email)
	}
	if staged.Consultant != nil {
		staged.Consultant.Email = normalizeEmail(staged.Consultant.Email)
	}
	for i := range staged.TeamMembers {
		staged.TeamMembers[i].Email = normalizeEmail(staged.TeamMembers[i].Email)
	}
	if staged.Project != nil {
		staged.Project.Name = strings.TrimSpace(staged.Project.Name)
	}
}

type stagedMember struct {
	model.StagedMember
	role model.Role
}

// stagedMembers flattens the member slots. Members without an email are
// dropped.
func stagedMembers(staged *model.StagedSignup) []stagedMember {
	var out []stagedMember
	add := func(m *model.StagedMember, role model.Role) {
		if m == nil || m.Email == "" {
			return
		}
		out = append(out, stagedMember{StagedMember: *m, role: role})
	}
	add(staged.Contractor, model.RoleContractor)
	add(staged.Consultant, model.RoleConsultant)
	for i := range staged.TeamMembers {
		add(&staged.TeamMembers[i], model.RoleTeamMember)
	}
	return out
}
