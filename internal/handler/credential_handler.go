package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/onboard/internal/middleware"
	"github.com/xxxsen/onboard/internal/model"
	"github.com/xxxsen/onboard/internal/pkg/jwt"
	"github.com/xxxsen/onboard/internal/pkg/response"
	"github.com/xxxsen/onboard/internal/service"
)

type Credentials interface {
	Login(ctx context.Context, role, email, password string) (*service.LoginResult, error)
	SendFirstLoginCode(ctx context.Context, role, email, password string) (*service.FirstLoginResult, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, password string) (*service.ResetResult, error)
	Profile(ctx context.Context, claims *jwt.Claims) (*model.Account, error)
}

type CredentialHandler struct {
	creds Credentials
}

func NewCredentialHandler(creds Credentials) *CredentialHandler {
	return &CredentialHandler{creds: creds}
}

type loginRequest struct {
	Role     string `json:"role" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success    bool   `json:"success"`
	Token      string `json:"token,omitempty"`
	Role       string `json:"role,omitempty"`
	FirstLogin bool   `json:"firstLogin,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (h *CredentialHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.creds.Login(c.Request.Context(), req.Role, req.Email, req.Password)
	if err != nil {
		handleError(c, err)
		return
	}
	out := loginResponse{Success: res.Success, Token: res.Token, FirstLogin: res.FirstLogin, Error: res.Error}
	if res.Account != nil {
		out.Role = string(res.Account.Role)
	}
	response.Success(c, out)
}

type firstLoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role"`
}

type sessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (h *CredentialHandler) SendVerification(c *gin.Context) {
	var req firstLoginRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.creds.SendFirstLoginCode(c.Request.Context(), req.Role, req.Email, req.Password)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, sessionResponse{Success: res.Success, SessionID: res.SessionID, Error: res.Error})
}

type resetRequestBody struct {
	Email string `json:"email" binding:"required"`
}

func (h *CredentialHandler) RequestPasswordReset(c *gin.Context) {
	var req resetRequestBody
	if !bindJSON(c, &req) {
		return
	}
	if err := h.creds.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, sessionResponse{
		Success: true,
		Message: "if the email is registered, a reset code has been sent",
	})
}

type resetPasswordRequest struct {
	Email    string `json:"email" binding:"required"`
	Code     string `json:"code"`
	Token    string `json:"token"`
	Password string `json:"password" binding:"required"`
}

func (h *CredentialHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		code = strings.TrimSpace(req.Token)
	}
	res, err := h.creds.ResetPassword(c.Request.Context(), req.Email, code, req.Password)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, sessionResponse{Success: res.Success, Error: res.Error})
}

func (h *CredentialHandler) Me(c *gin.Context) {
	account, err := h.creds.Profile(c.Request.Context(), middleware.Claims(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, account)
}
