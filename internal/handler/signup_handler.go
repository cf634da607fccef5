package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/onboard/internal/model"
	"github.com/xxxsen/onboard/internal/pkg/response"
	"github.com/xxxsen/onboard/internal/service"
)

type Stager interface {
	Stage(ctx context.Context, staged *model.StagedSignup) ([]byte, string, error)
}

type CodeIssuer interface {
	IssueCode(ctx context.Context, in service.IssueInput) (*service.IssueResult, error)
}

type SignupHandler struct {
	accounts Stager
	issuer   CodeIssuer
}

func NewSignupHandler(accounts Stager, issuer CodeIssuer) *SignupHandler {
	return &SignupHandler{accounts: accounts, issuer: issuer}
}

type signupResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

// CreateClient stages the signup graph and mails the client a code. Nothing
// is persisted as an account until the code is verified.
func (h *SignupHandler) CreateClient(c *gin.Context) {
	var req model.StagedSignup
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	payload, secret, err := h.accounts.Stage(ctx, &req)
	if err != nil {
		handleError(c, err)
		return
	}
	res, err := h.issuer.IssueCode(ctx, service.IssueInput{
		Email:         req.Client.Email,
		Flow:          model.FlowSignup,
		Payload:       payload,
		PendingSecret: secret,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, signupResponse{
		Success:   true,
		Message:   "verification code sent",
		SessionID: res.SessionID,
	})
}
