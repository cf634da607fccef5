package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/onboard/internal/config"
)

type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a single message. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New builds the sender for the configured provider. Remote providers are
// wrapped in a circuit breaker.
func New(cfg config.MailConfig) (Sender, error) {
	var sender Sender
	switch cfg.Provider {
	case config.MailProviderSendGrid:
		sender = NewSendGridSender(cfg.SendGrid.APIKey, cfg.SendGrid.Host, cfg.From, cfg.FromName)
	case config.MailProviderSMTP:
		sender = NewSMTPSender(cfg.SMTP, cfg.From)
	case config.MailProviderLog:
		return NewLogSender(), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
	return WithBreaker(sender, cfg.Provider, BreakerOptions{
		MaxFailures:    cfg.Breaker.MaxFailures,
		OpenTimeout:    time.Duration(cfg.Breaker.OpenSeconds) * time.Second,
		HalfOpenRequests: cfg.Breaker.HalfOpenRequests,
	}), nil
}
