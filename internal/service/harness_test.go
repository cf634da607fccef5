package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/onboard/internal/model"
	"github.com/xxxsen/onboard/internal/pkg/jwt"
)

type harness struct {
	clock    time.Time
	manager  *memManager
	sender   *fakeSender
	events   *fakePublisher
	verify   *VerificationService
	accounts *AccountService
	creds    *CredentialService
	bounces  *BounceService
	signer   *jwt.Signer
}

func newHarness(t *testing.T, mode string) *harness {
	t.Helper()
	h := &harness{
		clock:   time.Unix(1_700_000_000, 0),
		manager: newMemManager(),
		sender:  &fakeSender{},
		events:  &fakePublisher{},
	}
	now := func() time.Time { return h.clock }
	h.verify = NewVerificationService(h.manager, h.sender, h.events, VerificationOptions{
		Mode:        mode,
		TTL:         180 * time.Second,
		CodeLength:  6,
		MaxResends:  2,
		MaxFailures: 5,
		LinkBaseURL: "https://app.test/verify",
	})
	h.verify.now = now
	h.accounts = NewAccountService(h.manager, h.events)
	h.accounts.now = now
	h.signer = jwt.NewSigner([]byte("test-secret"), time.Hour)
	h.creds = NewCredentialService(h.manager, h.verify, h.events, h.signer)
	h.creds.now = now
	h.bounces = NewBounceService(h.manager, h.events)
	h.bounces.now = now
	h.verify.RegisterCommitter(model.FlowSignup, h.accounts)
	h.verify.RegisterCommitter(model.FlowFirstLogin, h.creds)
	return h
}

func (h *harness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
}

// stageSignup stages a signup the way the create-client route does and
// returns its session id.
func (h *harness) stageSignup(t *testing.T, staged *model.StagedSignup) string {
	t.Helper()
	payload, secret, err := h.accounts.Stage(context.Background(), staged)
	require.NoError(t, err)
	res, err := h.verify.IssueCode(context.Background(), IssueInput{
		Email:         staged.Client.Email,
		Flow:          model.FlowSignup,
		Payload:       payload,
		PendingSecret: secret,
	})
	require.NoError(t, err)
	return res.SessionID
}

func sampleSignup() *model.StagedSignup {
	return &model.StagedSignup{
		Client: model.StagedClient{
			CompanyName:        "Acme",
			RepresentativeName: "Ann",
			Email:              "A@B.com",
			Phone:              "555",
			Password:           "s3cret-pass",
		},
		Project:    &model.StagedProject{Name: "Tower", Location: "Leeds", ContractRef: "C-1"},
		Contractor: &model.StagedMember{Name: "Carl", Email: "carl@b.com"},
		Consultant: &model.StagedMember{Name: "Cora", Email: "cora@b.com"},
		TeamMembers: []model.StagedMember{
			{Name: "Tess", Email: "tess@b.com"},
			{Name: "No Mail"},
		},
	}
}
