package mailer

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type BreakerOptions struct {
	MaxFailures    uint32
	OpenTimeout    time.Duration
	HalfOpenRequests uint32
}

type breakerSender struct {
	next Sender
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker stops calling next after MaxFailures consecutive errors and
// fails fast until OpenTimeout has passed.
func WithBreaker(next Sender, name string, opts BreakerOptions) Sender {
	st := gobreaker.Settings{
		Name:        "mail-" + name,
		MaxRequests: opts.HalfOpenRequests,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logutil.GetLogger(context.Background()).Warn("mail breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &breakerSender{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *breakerSender) Send(ctx context.Context, msg Message) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Send(ctx, msg)
	})
	return err
}
