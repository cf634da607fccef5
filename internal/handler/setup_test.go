package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/onboard/internal/handler"
	"github.com/xxxsen/onboard/internal/model"
	"github.com/xxxsen/onboard/internal/pkg/jwt"
	"github.com/xxxsen/onboard/internal/service"
)

const testSecret = "handler-secret"

type fakeAccounts struct {
	err    error
	staged *model.StagedSignup
}

func (f *fakeAccounts) Stage(ctx context.Context, staged *model.StagedSignup) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	f.staged = staged
	return []byte(`{}`), "hash", nil
}

type fakeVerifier struct {
	issueErr  error
	issued    []service.IssueInput
	verify    *service.VerifyResult
	verifyErr error
	verified  []service.VerifyInput
	resend    *service.ResendResult
	resendErr error
}

func (f *fakeVerifier) IssueCode(ctx context.Context, in service.IssueInput) (*service.IssueResult, error) {
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	f.issued = append(f.issued, in)
	return &service.IssueResult{SessionID: "S1"}, nil
}

func (f *fakeVerifier) VerifyCode(ctx context.Context, in service.VerifyInput) (*service.VerifyResult, error) {
	f.verified = append(f.verified, in)
	return f.verify, f.verifyErr
}

func (f *fakeVerifier) Resend(ctx context.Context, email, flow string) (*service.ResendResult, error) {
	return f.resend, f.resendErr
}

type fakeCredentials struct {
	login      *service.LoginResult
	loginErr   error
	firstLogin *service.FirstLoginResult
	resetReq   []string
	reset      *service.ResetResult
	resetCode  string
	profile    *model.Account
}

func (f *fakeCredentials) Login(ctx context.Context, role, email, password string) (*service.LoginResult, error) {
	return f.login, f.loginErr
}

func (f *fakeCredentials) SendFirstLoginCode(ctx context.Context, role, email, password string) (*service.FirstLoginResult, error) {
	return f.firstLogin, nil
}

func (f *fakeCredentials) RequestPasswordReset(ctx context.Context, email string) error {
	f.resetReq = append(f.resetReq, email)
	return nil
}

func (f *fakeCredentials) ResetPassword(ctx context.Context, email, code, password string) (*service.ResetResult, error) {
	f.resetCode = code
	return f.reset, nil
}

func (f *fakeCredentials) Profile(ctx context.Context, claims *jwt.Claims) (*model.Account, error) {
	return f.profile, nil
}

type fakeBounces struct {
	batches [][]json.RawMessage
}

func (f *fakeBounces) HandleEvents(ctx context.Context, raw []json.RawMessage) service.BounceReport {
	f.batches = append(f.batches, raw)
	return service.BounceReport{Received: len(raw)}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

type fixture struct {
	router   *gin.Engine
	accounts *fakeAccounts
	verifier *fakeVerifier
	creds    *fakeCredentials
	bounces  *fakeBounces
}

func setupRouter(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{
		accounts: &fakeAccounts{},
		verifier: &fakeVerifier{},
		creds:    &fakeCredentials{},
		bounces:  &fakeBounces{},
	}
	deps := handler.RouterDeps{
		Signup: handler.NewSignupHandler(f.accounts, f.verifier),
		Verification: handler.NewVerificationHandler(f.verifier, handler.RedirectPages{
			Success: "/verification-success.html",
			Failure: "/verification-failed.html",
			Signup:  "/signup",
		}),
		Credentials: handler.NewCredentialHandler(f.creds),
		Events:      handler.NewEventHandler(f.bounces),
		Health:      handler.NewHealthHandler(fakePinger{}),
		Tokens:      jwt.NewSigner([]byte(testSecret), time.Minute),
	}
	r := gin.New()
	handler.RegisterRoutes(r.Group("/"), deps)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}
