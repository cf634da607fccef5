package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/onboard/internal/config"
	"github.com/xxxsen/onboard/internal/event"
	"github.com/xxxsen/onboard/internal/mailer"
	"github.com/xxxsen/onboard/internal/model"
	appErr "github.com/xxxsen/onboard/internal/pkg/errors"
	"github.com/xxxsen/onboard/internal/pkg/password"
	"github.com/xxxsen/onboard/internal/repo"
)

// Committer turns a consumed token into persistent state. It runs inside
// the transaction that consumed the token, so an error un-consumes it.
type Committer interface {
	Commit(ctx context.Context, store repo.Store, token *model.VerificationToken, staged *model.StagedSignup) (string, error)
}

// rollbacker is implemented by committers that own staged rows which must
// be cleaned up once an episode runs out of resends.
type rollbacker interface {
	Rollback(ctx context.Context, email string) (*RollbackResult, error)
}

type VerificationOptions struct {
	Mode        string
	TTL         time.Duration
	CodeLength  int
	MaxResends  int
	MaxFailures int
	LinkBaseURL string
}

type IssueInput struct {
	Email         string
	Flow          string
	Payload       []byte
	PendingSecret string
}

type IssueResult struct {
	SessionID string
}

type VerifyInput struct {
	Email     string
	SessionID string
	Code      string
	Flow      string
	Staged    *model.StagedSignup
}

type VerifyResult struct {
	Verified        bool
	AlreadyVerified bool
	AccountID       string
}

// ResendResult carries exactly one outcome. Restart means the flow has no
// pending episode and needs its original request again, since only that
// request carries the new password.
type ResendResult struct {
	SessionID        string
	AttemptsExceeded bool
	Restart          bool
}

type VerificationService struct {
	manager    repo.Manager
	sender     mailer.Sender
	publisher  event.Publisher
	validate   *validator.Validate
	opts       VerificationOptions
	committers map[string]Committer
	now        func() time.Time
}

func NewVerificationService(manager repo.Manager, sender mailer.Sender, publisher event.Publisher, opts VerificationOptions) *VerificationService {
	if opts.CodeLength <= 0 {
		opts.CodeLength = 6
	}
	if opts.Mode == "" {
		opts.Mode = config.VerificationModeCode
	}
	if opts.MaxResends <= 0 {
		opts.MaxResends = 2
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 5
	}
	return &VerificationService{
		manager:    manager,
		sender:     sender,
		publisher:  publisher,
		validate:   validator.New(),
		opts:       opts,
		committers: make(map[string]Committer),
		now:        time.Now,
	}
}

func (s *VerificationService) RegisterCommitter(flow string, c Committer) {
	s.committers[flow] = c
}

func (s *VerificationService) MaxFailures() int {
	return s.opts.MaxFailures
}

func (s *VerificationService) IssueCode(ctx context.Context, in IssueInput) (*IssueResult, error) {
	email := normalizeEmail(in.Email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, fmt.Errorf("%w: email", appErr.ErrInvalid)
	}
	if !model.IsKnownFlow(in.Flow) {
		return nil, fmt.Errorf("%w: flow", appErr.ErrInvalid)
	}
	token, credential, err := s.newToken(email, in.Flow, newSessionID(), in.Payload, in.PendingSecret, 0)
	if err != nil {
		return nil, err
	}
	if err := s.replaceActive(ctx, token); err != nil {
		return nil, err
	}
	if err := s.deliver(ctx, token, credential); err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("verification code issued",
		zap.String("email", email),
		zap.String("flow", in.Flow),
		zap.String("session_id", token.SessionID),
	)
	return &IssueResult{SessionID: token.SessionID}, nil
}

// VerifyCode consumes the matching token and commits its flow in one
// transaction. Every negative outcome has the same shape.
func (s *VerificationService) VerifyCode(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	email := normalizeEmail(in.Email)
	code := strings.TrimSpace(in.Code)
	if email == "" || code == "" || in.SessionID == "" {
		return nil, fmt.Errorf("%w: email, sessionId and code are required", appErr.ErrInvalid)
	}
	flow := in.Flow
	if flow == "" {
		flow = model.FlowSignup
	}
	committer, ok := s.committers[flow]
	if !ok {
		return nil, fmt.Errorf("%w: flow", appErr.ErrInvalid)
	}
	codeHash := password.Digest(code)
	now := s.now().Unix()

	var consumed *model.VerificationToken
	var accountID string
	err := s.manager.InTx(ctx, func(store repo.Store) error {
		token, err := store.Tokens().Consume(ctx, repo.ConsumeQuery{
			Email:       email,
			Flow:        flow,
			SessionID:   in.SessionID,
			CodeHash:    codeHash,
			MaxFailures: s.opts.MaxFailures,
		}, now)
		if err != nil {
			if appErr.IsNotFound(err) {
				return nil
			}
			return err
		}
		id, err := committer.Commit(ctx, store, token, in.Staged)
		if err != nil {
			return err
		}
		consumed, accountID = token, id
		return nil
	})
	if err != nil {
		logutil.GetLogger(ctx).Error("verify code failed",
			zap.String("email", email),
			zap.String("flow", flow),
			zap.Error(err),
		)
		return nil, err
	}
	if consumed != nil {
		s.publishCommitted(ctx, consumed, accountID)
		return &VerifyResult{Verified: true, AccountID: accountID}, nil
	}

	if _, err := s.manager.Tokens().FindVerified(ctx, email, flow, in.SessionID, codeHash); err == nil {
		return &VerifyResult{Verified: true, AlreadyVerified: true}, nil
	} else if !appErr.IsNotFound(err) {
		return nil, err
	}
	if _, err := s.manager.Tokens().RecordFailure(ctx, email, flow, in.SessionID, now); err != nil {
		return nil, err
	}
	return &VerifyResult{Verified: false}, nil
}

// Resend issues a fresh credential for the latest episode of the flow, or
// abandons the episode once the resend budget is spent. Only signup may
// open a new episode here.
func (s *VerificationService) Resend(ctx context.Context, email, flow string) (*ResendResult, error) {
	email = normalizeEmail(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, fmt.Errorf("%w: email", appErr.ErrInvalid)
	}
	if flow == "" {
		flow = model.FlowSignup
	}
	if !model.IsKnownFlow(flow) {
		return nil, fmt.Errorf("%w: flow", appErr.ErrInvalid)
	}
	latest, err := s.manager.Tokens().Latest(ctx, email, flow)
	if err != nil && !appErr.IsNotFound(err) {
		return nil, err
	}
	if latest == nil || latest.Verified {
		if flow != model.FlowSignup {
			return &ResendResult{Restart: true}, nil
		}
		return s.startEpisode(ctx, email, flow)
	}
	if latest.Attempts >= s.opts.MaxResends {
		if err := s.abandon(ctx, email, flow); err != nil {
			return nil, err
		}
		return &ResendResult{AttemptsExceeded: true}, nil
	}

	token, credential, err := s.newToken(email, flow, latest.SessionID, latest.Payload, latest.PendingSecret, latest.Attempts+1)
	if err != nil {
		return nil, err
	}
	if err := s.replaceActive(ctx, token); err != nil {
		return nil, err
	}
	if err := s.deliver(ctx, token, credential); err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("verification code resent",
		zap.String("email", email),
		zap.String("flow", flow),
		zap.Int("attempts", token.Attempts),
	)
	return &ResendResult{SessionID: token.SessionID}, nil
}

func (s *VerificationService) startEpisode(ctx context.Context, email, flow string) (*ResendResult, error) {
	token, credential, err := s.newToken(email, flow, newSessionID(), nil, "", 1)
	if err != nil {
		return nil, err
	}
	if err := s.replaceActive(ctx, token); err != nil {
		return nil, err
	}
	if err := s.deliver(ctx, token, credential); err != nil {
		return nil, err
	}
	return &ResendResult{SessionID: token.SessionID}, nil
}

// replaceActive retires the active token of the flow and stores the new
// one, keeping a single guessable code per email and flow. Losing the race
// against a concurrent issue surfaces as ErrTooMany.
func (s *VerificationService) replaceActive(ctx context.Context, token *model.VerificationToken) error {
	err := s.manager.InTx(ctx, func(store repo.Store) error {
		if _, err := store.Tokens().Supersede(ctx, token.Email, token.Flow, token.Ctime); err != nil {
			return err
		}
		return store.Tokens().Create(ctx, token)
	})
	if appErr.IsConflict(err) {
		return fmt.Errorf("%w: verification already in progress", appErr.ErrTooMany)
	}
	return err
}

func (s *VerificationService) abandon(ctx context.Context, email, flow string) error {
	logutil.GetLogger(ctx).Warn("resend limit reached, abandoning episode",
		zap.String("email", email),
		zap.String("flow", flow),
	)
	if rb, ok := s.committers[flow].(rollbacker); ok {
		_, err := rb.Rollback(ctx, email)
		return err
	}
	_, err := s.manager.Tokens().DeleteByEmail(ctx, email, flow)
	return err
}

func (s *VerificationService) newToken(email, flow, sessionID string, payload []byte, pendingSecret string, attempts int) (*model.VerificationToken, string, error) {
	var credential string
	var err error
	if s.opts.Mode == config.VerificationModeLink {
		credential, err = newLinkToken()
	} else {
		credential, err = newCode(s.opts.CodeLength)
	}
	if err != nil {
		return nil, "", err
	}
	now := s.now().Unix()
	return &model.VerificationToken{
		ID:            newID(),
		Email:         email,
		Flow:          flow,
		SessionID:     sessionID,
		CodeHash:      password.Digest(credential),
		PendingSecret: pendingSecret,
		Payload:       payload,
		Attempts:      attempts,
		Ctime:         now,
		Mtime:         now,
		ExpiresAt:     now + int64(s.opts.TTL/time.Second),
	}, credential, nil
}

func (s *VerificationService) deliver(ctx context.Context, token *model.VerificationToken, credential string) error {
	var msg mailer.Message
	if s.opts.Mode == config.VerificationModeLink {
		msg = mailer.LinkMessage(token.Email, token.Flow, s.link(token, credential), s.opts.TTL)
	} else {
		msg = mailer.CodeMessage(token.Email, token.Flow, credential, s.opts.TTL)
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		logutil.GetLogger(ctx).Error("send verification mail failed",
			zap.String("email", token.Email),
			zap.String("flow", token.Flow),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", appErr.ErrDelivery, err)
	}
	return nil
}

func (s *VerificationService) link(token *model.VerificationToken, credential string) string {
	q := url.Values{}
	q.Set("email", token.Email)
	q.Set("sessionId", token.SessionID)
	q.Set("token", credential)
	if token.Flow != model.FlowSignup {
		q.Set("flow", token.Flow)
	}
	sep := "?"
	if strings.Contains(s.opts.LinkBaseURL, "?") {
		sep = "&"
	}
	return s.opts.LinkBaseURL + sep + q.Encode()
}

func (s *VerificationService) publishCommitted(ctx context.Context, token *model.VerificationToken, accountID string) {
	typ := event.TypeAccountCommitted
	if token.Flow != model.FlowSignup {
		typ = event.TypePasswordSet
	}
	publish(ctx, s.publisher, event.Event{
		Type:      typ,
		Email:     token.Email,
		AccountID: accountID,
		At:        s.now().Unix(),
	})
}

func publish(ctx context.Context, publisher event.Publisher, evt event.Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, evt); err != nil {
		logutil.GetLogger(ctx).Warn("publish event failed",
			zap.String("type", evt.Type),
			zap.String("email", evt.Email),
			zap.Error(err),
		)
	}
}
