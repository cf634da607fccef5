package handler

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/onboard/internal/pkg/response"
	"github.com/xxxsen/onboard/internal/service"
)

type BounceProcessor interface {
	HandleEvents(ctx context.Context, raw []json.RawMessage) service.BounceReport
}

type EventHandler struct {
	bounces BounceProcessor
}

func NewEventHandler(bounces BounceProcessor) *EventHandler {
	return &EventHandler{bounces: bounces}
}

// SendGridEvents always acknowledges so the provider does not retry.
func (h *EventHandler) SendGridEvents(c *gin.Context) {
	ctx := c.Request.Context()
	var batch []json.RawMessage
	if err := c.ShouldBindJSON(&batch); err != nil {
		logutil.GetLogger(ctx).Warn("unreadable delivery event batch", zap.Error(err))
		response.Success(c, gin.H{"success": true})
		return
	}
	report := h.bounces.HandleEvents(ctx, batch)
	logutil.GetLogger(ctx).Info("delivery events processed",
		zap.Int("received", report.Received),
		zap.Int("deverified", report.Deverified),
		zap.Int("malformed", report.Malformed),
		zap.Int("failed", report.Failed),
	)
	response.Success(c, gin.H{"success": true})
}
