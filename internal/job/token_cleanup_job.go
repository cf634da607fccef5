package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/onboard/internal/repo"
)

// TokenCleanupJob purges verification tokens whose expiry is older than the
// retention window. Verified tokens are kept until then so replays of a
// consumed code still resolve.
type TokenCleanupJob struct {
	tokens repo.TokenStore
	retain time.Duration
	now    func() time.Time
}

func NewTokenCleanupJob(tokens repo.TokenStore, retain time.Duration) *TokenCleanupJob {
	return &TokenCleanupJob{tokens: tokens, retain: retain, now: time.Now}
}

func (j *TokenCleanupJob) Name() string {
	return "token_cleanup"
}

func (j *TokenCleanupJob) Run(ctx context.Context) error {
	if j.tokens == nil {
		return nil
	}
	retain := j.retain
	if retain <= 0 {
		retain = 24 * time.Hour
	}
	cutoff := j.now().Add(-retain).Unix()
	removed, err := j.tokens.DeleteExpired(ctx, cutoff)
	if err != nil {
		return err
	}
	if removed > 0 {
		logutil.GetLogger(ctx).Info("expired tokens removed", zap.Int64("count", removed), zap.Int64("cutoff", cutoff))
	}
	return nil
}
