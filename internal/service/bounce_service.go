package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/onboard/internal/event"
	"github.com/xxxsen/onboard/internal/model"
	"github.com/xxxsen/onboard/internal/repo"
)

type deliveryEvent struct {
	Event string `json:"event"`
	Email string `json:"email"`
	Type  string `json:"type"`
}

// hardFailure reports whether a provider event means the address cannot
// receive mail.
func (e deliveryEvent) hardFailure() bool {
	switch strings.ToLower(e.Event) {
	case "bounce", "bounced", "dropped", "blocked":
		return true
	}
	return strings.EqualFold(e.Type, "blocked")
}

type BounceReport struct {
	Received   int
	Ignored    int
	Malformed  int
	Failed     int
	Deverified int
}

type BounceService struct {
	manager   repo.Manager
	publisher event.Publisher
	now       func() time.Time
}

func NewBounceService(manager repo.Manager, publisher event.Publisher) *BounceService {
	return &BounceService{manager: manager, publisher: publisher, now: time.Now}
}

// HandleEvents processes each entry on its own; a bad entry never stops
// the rest of the batch.
func (s *BounceService) HandleEvents(ctx context.Context, raw []json.RawMessage) BounceReport {
	report := BounceReport{Received: len(raw)}
	for idx, item := range raw {
		var evt deliveryEvent
		if err := json.Unmarshal(item, &evt); err != nil {
			report.Malformed++
			logutil.GetLogger(ctx).Warn("skip malformed delivery event", zap.Int("index", idx), zap.Error(err))
			continue
		}
		email := normalizeEmail(evt.Email)
		if email == "" {
			report.Malformed++
			continue
		}
		if !evt.hardFailure() {
			report.Ignored++
			continue
		}
		changed, err := s.deverify(ctx, email)
		if err != nil {
			report.Failed++
			logutil.GetLogger(ctx).Error("deverify account failed", zap.String("email", email), zap.Error(err))
			continue
		}
		if changed == 0 {
			continue
		}
		report.Deverified++
		logutil.GetLogger(ctx).Info("account deverified after delivery failure",
			zap.String("email", email),
			zap.String("event", evt.Event),
		)
		publish(ctx, s.publisher, event.Event{
			Type:   event.TypeAccountDeverified,
			Email:  email,
			Reason: evt.Event,
			At:     s.now().Unix(),
		})
	}
	return report
}

func (s *BounceService) deverify(ctx context.Context, email string) (int64, error) {
	now := s.now().Unix()
	var total int64
	for _, part := range model.Partitions {
		n, err := s.manager.Accounts().SetVerified(ctx, part, email, false, now)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
