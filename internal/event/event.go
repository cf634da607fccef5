package event

import (
	"context"
)

const (
	TypeAccountCommitted  = "account.committed"
	TypePasswordSet       = "account.password_set"
	TypeAccountDeverified = "account.deverified"
	TypeSignupRolledBack  = "signup.rolled_back"
)

type Event struct {
	Type      string `json:"type"`
	Email     string `json:"email"`
	AccountID string `json:"account_id,omitempty"`
	Role      string `json:"role,omitempty"`
	Reason    string `json:"reason,omitempty"`
	At        int64  `json:"at"`
}

// Publisher delivers account lifecycle events. Publishing is best effort:
// callers log failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

type nopPublisher struct{}

func NewNopPublisher() Publisher {
	return nopPublisher{}
}

func (nopPublisher) Publish(ctx context.Context, evt Event) error {
	return nil
}

func (nopPublisher) Close() error {
	return nil
}
