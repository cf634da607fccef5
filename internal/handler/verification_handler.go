package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/onboard/internal/model"
	"github.com/xxxsen/onboard/internal/pkg/response"
	"github.com/xxxsen/onboard/internal/service"
)

type Verifier interface {
	VerifyCode(ctx context.Context, in service.VerifyInput) (*service.VerifyResult, error)
	Resend(ctx context.Context, email, flow string) (*service.ResendResult, error)
}

type RedirectPages struct {
	Success string
	Failure string
	Signup  string
}

type VerificationHandler struct {
	verifier Verifier
	pages    RedirectPages
}

func NewVerificationHandler(verifier Verifier, pages RedirectPages) *VerificationHandler {
	return &VerificationHandler{verifier: verifier, pages: pages}
}

type verifyCodeRequest struct {
	Email     string              `json:"email" binding:"required"`
	SessionID string              `json:"sessionId" binding:"required"`
	Code      string              `json:"code" binding:"required"`
	Flow      string              `json:"flow"`
	Signup    *model.StagedSignup `json:"signup"`
}

type verifyCodeResponse struct {
	Verified bool `json:"verified"`
}

func (h *VerificationHandler) VerifyCode(c *gin.Context) {
	var req verifyCodeRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.verifier.VerifyCode(c.Request.Context(), service.VerifyInput{
		Email:     req.Email,
		SessionID: req.SessionID,
		Code:      req.Code,
		Flow:      req.Flow,
		Staged:    req.Signup,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, verifyCodeResponse{Verified: res.Verified})
}

// VerifyLink serves the emailed link and always answers with a redirect.
func (h *VerificationHandler) VerifyLink(c *gin.Context) {
	ctx := c.Request.Context()
	res, err := h.verifier.VerifyCode(ctx, service.VerifyInput{
		Email:     c.Query("email"),
		SessionID: c.Query("sessionId"),
		Code:      c.Query("token"),
		Flow:      c.Query("flow"),
	})
	if err != nil {
		logutil.GetLogger(ctx).Error("verify link failed", zap.String("email", c.Query("email")), zap.Error(err))
		response.Redirect(c, h.pages.Failure)
		return
	}
	if !res.Verified {
		response.Redirect(c, h.pages.Failure)
		return
	}
	response.Redirect(c, h.pages.Success)
}

type resendRequest struct {
	Email string `json:"email" binding:"required"`
	Flow  string `json:"flow"`
}

type resendResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId,omitempty"`
	Redirect  string `json:"redirect,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (h *VerificationHandler) Resend(c *gin.Context) {
	var req resendRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.verifier.Resend(c.Request.Context(), req.Email, req.Flow)
	if err != nil {
		handleError(c, err)
		return
	}
	if res.AttemptsExceeded {
		response.Success(c, resendResponse{
			Redirect: h.pages.Signup,
			Message:  "too many attempts, please start again",
		})
		return
	}
	if res.Restart {
		response.Success(c, resendResponse{Message: "no pending verification, please start again"})
		return
	}
	response.Success(c, resendResponse{Success: true, SessionID: res.SessionID})
}
