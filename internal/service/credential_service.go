package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/onboard/internal/event"
	"github.com/xxxsen/onboard/internal/model"
	appErr "github.com/xxxsen/onboard/internal/pkg/errors"
	"github.com/xxxsen/onboard/internal/pkg/jwt"
	"github.com/xxxsen/onboard/internal/pkg/password"
	"github.com/xxxsen/onboard/internal/repo"
)

const (
	MsgUserNotFound      = "user not found"
	MsgNotVerified       = "account not verified"
	MsgIncorrectPassword = "incorrect password"
	MsgPasswordSet       = "password already set"
	MsgInvalidCode       = "invalid or expired code"
)

var errNoAccount = errors.New("no account holds this email")

type LoginResult struct {
	Success    bool
	FirstLogin bool
	Error      string
	Token      string
	Account    *model.Account
}

type FirstLoginResult struct {
	Success   bool
	SessionID string
	Error     string
}

type ResetResult struct {
	Success bool
	Error   string
}

type firstLoginPayload struct {
	Role string `json:"role"`
}

type CredentialService struct {
	manager   repo.Manager
	verifier  *VerificationService
	publisher event.Publisher
	signer    *jwt.Signer
	now       func() time.Time
}

func NewCredentialService(manager repo.Manager, verifier *VerificationService, publisher event.Publisher, signer *jwt.Signer) *CredentialService {
	return &CredentialService{
		manager:   manager,
		verifier:  verifier,
		publisher: publisher,
		signer:    signer,
		now:       time.Now,
	}
}

// Login checks a credential against the role's partition. Negative outcomes
// are results, not errors; only a bad role or broken storage is an error.
func (s *CredentialService) Login(ctx context.Context, roleName, email, plain string) (*LoginResult, error) {
	role, ok := model.ParseRole(roleName)
	if !ok {
		return nil, fmt.Errorf("%w: role", appErr.ErrInvalid)
	}
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email", appErr.ErrInvalid)
	}
	account, err := s.manager.Accounts().GetByEmail(ctx, role.Partition(), email)
	if err != nil {
		if appErr.IsNotFound(err) {
			return &LoginResult{Error: MsgUserNotFound}, nil
		}
		return nil, err
	}
	if !account.HasPassword() {
		return &LoginResult{FirstLogin: true}, nil
	}
	if !account.Verified {
		return &LoginResult{Error: MsgNotVerified}, nil
	}
	if err := password.Compare(account.PasswordHash, plain); err != nil {
		logutil.GetLogger(ctx).Info("login rejected", zap.String("email", email), zap.String("role", string(role)))
		return &LoginResult{Error: MsgIncorrectPassword}, nil
	}
	token, err := s.signer.Sign(account)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Success: true, Token: token, Account: account}, nil
}

// SendFirstLoginCode stages the chosen password and mails a first_login
// code. The password becomes active only once that code is verified.
func (s *CredentialService) SendFirstLoginCode(ctx context.Context, roleName, email, plain string) (*FirstLoginResult, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email", appErr.ErrInvalid)
	}
	if !password.Acceptable(plain) {
		return nil, fmt.Errorf("%w: password must be %d to %d characters", appErr.ErrInvalid, password.MinLength, password.MaxLength)
	}
	partitions := model.Partitions
	if strings.TrimSpace(roleName) != "" {
		role, ok := model.ParseRole(roleName)
		if !ok {
			return nil, fmt.Errorf("%w: role", appErr.ErrInvalid)
		}
		partitions = []model.Partition{role.Partition()}
	}
	account, err := s.find(ctx, s.manager, email, partitions)
	if err != nil {
		if errors.Is(err, errNoAccount) {
			return &FirstLoginResult{Error: MsgUserNotFound}, nil
		}
		return nil, err
	}
	if account.HasPassword() {
		return &FirstLoginResult{Error: MsgPasswordSet}, nil
	}
	hash, err := password.Hash(plain)
	if err != nil {
		return nil, err
	}
	role := account.Role
	if role == "" {
		role = account.Partition.DefaultRole()
	}
	payload, err := json.Marshal(firstLoginPayload{Role: string(role)})
	if err != nil {
		return nil, err
	}
	res, err := s.verifier.IssueCode(ctx, IssueInput{
		Email:         email,
		Flow:          model.FlowFirstLogin,
		Payload:       payload,
		PendingSecret: hash,
	})
	if err != nil {
		return nil, err
	}
	return &FirstLoginResult{Success: true, SessionID: res.SessionID}, nil
}

// Commit applies a verified first_login token: the staged hash becomes the
// account's password and the account is marked verified.
func (s *CredentialService) Commit(ctx context.Context, store repo.Store, token *model.VerificationToken, _ *model.StagedSignup) (string, error) {
	var payload firstLoginPayload
	if err := json.Unmarshal(token.Payload, &payload); err != nil {
		return "", fmt.Errorf("decode first login payload: %w", err)
	}
	role, ok := model.ParseRole(payload.Role)
	if !ok {
		return "", fmt.Errorf("%w: role in first login payload", appErr.ErrInvalid)
	}
	if token.PendingSecret == "" {
		return "", fmt.Errorf("%w: no pending password", appErr.ErrInvalid)
	}
	account, err := store.Accounts().GetByEmail(ctx, role.Partition(), token.Email)
	if err != nil {
		return "", err
	}
	if _, err := store.Accounts().SetPassword(ctx, role.Partition(), token.Email, token.PendingSecret, true, s.now().Unix()); err != nil {
		return "", err
	}
	return account.ID, nil
}

// RequestPasswordReset mails a reset code when any partition knows the
// email. Unknown emails get the same answer without a mail.
func (s *CredentialService) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email", appErr.ErrInvalid)
	}
	if _, err := s.find(ctx, s.manager, email, model.Partitions); err != nil {
		if errors.Is(err, errNoAccount) {
			logutil.GetLogger(ctx).Info("password reset requested for unknown email", zap.String("email", email))
			return nil
		}
		return err
	}
	_, err := s.verifier.IssueCode(ctx, IssueInput{Email: email, Flow: model.FlowReset})
	return err
}

// ResetPassword consumes a reset code and sets the password on every
// partition holding the email. Reset tokens are single use.
func (s *CredentialService) ResetPassword(ctx context.Context, email, code, plain string) (*ResetResult, error) {
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return nil, fmt.Errorf("%w: email and code are required", appErr.ErrInvalid)
	}
	if !password.Acceptable(plain) {
		return nil, fmt.Errorf("%w: password must be %d to %d characters", appErr.ErrInvalid, password.MinLength, password.MaxLength)
	}
	hash, err := password.Hash(plain)
	if err != nil {
		return nil, err
	}
	now := s.now().Unix()
	consumed := false
	err = s.manager.InTx(ctx, func(store repo.Store) error {
		token, err := store.Tokens().Consume(ctx, repo.ConsumeQuery{
			Email:       email,
			Flow:        model.FlowReset,
			CodeHash:    password.Digest(code),
			MaxFailures: s.verifier.MaxFailures(),
		}, now)
		if err != nil {
			if appErr.IsNotFound(err) {
				return nil
			}
			return err
		}
		var updated int64
		for _, part := range model.Partitions {
			n, err := store.Accounts().SetPassword(ctx, part, token.Email, hash, true, now)
			if err != nil {
				return err
			}
			updated += n
		}
		if updated == 0 {
			return errNoAccount
		}
		if _, err := store.Tokens().DeleteByEmail(ctx, email, model.FlowReset); err != nil {
			return err
		}
		consumed = true
		return nil
	})
	if errors.Is(err, errNoAccount) {
		return &ResetResult{Error: MsgUserNotFound}, nil
	}
	if err != nil {
		return nil, err
	}
	if !consumed {
		if _, err := s.manager.Tokens().RecordFailure(ctx, email, model.FlowReset, "", now); err != nil {
			return nil, err
		}
		return &ResetResult{Error: MsgInvalidCode}, nil
	}
	publish(ctx, s.publisher, event.Event{
		Type:   event.TypePasswordSet,
		Email:  email,
		Reason: "reset",
		At:     now,
	})
	return &ResetResult{Success: true}, nil
}

func (s *CredentialService) Profile(ctx context.Context, claims *jwt.Claims) (*model.Account, error) {
	if claims == nil || claims.AccountID == "" {
		return nil, appErr.ErrUnauthorized
	}
	role, ok := claims.AccountRole()
	if !ok {
		return nil, appErr.ErrUnauthorized
	}
	account, err := s.manager.Accounts().GetByID(ctx, role.Partition(), claims.AccountID)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil, appErr.ErrUnauthorized
		}
		return nil, err
	}
	return account, nil
}

func (s *CredentialService) find(ctx context.Context, store repo.Store, email string, partitions []model.Partition) (*model.Account, error) {
	for _, part := range partitions {
		account, err := store.Accounts().GetByEmail(ctx, part, email)
		if err == nil {
			return account, nil
		}
		if !appErr.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, errNoAccount
}
