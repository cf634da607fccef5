package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/onboard/internal/middleware"
)

type RouterDeps struct {
	Signup       *SignupHandler
	Verification *VerificationHandler
	Credentials  *CredentialHandler
	Events       *EventHandler
	Health       *HealthHandler
	Tokens       middleware.TokenParser
	// Limiter guards the routes that send mail. Nil disables it.
	Limiter gin.HandlerFunc
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	limited := []gin.HandlerFunc{}
	if deps.Limiter != nil {
		limited = append(limited, deps.Limiter)
	}
	with := func(h gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, limited...), h)
	}

	api.POST("/create-client", with(deps.Signup.CreateClient)...)
	api.POST("/finalize-account", with(deps.Signup.CreateClient)...)
	api.POST("/verify-code", deps.Verification.VerifyCode)
	api.GET("/verify", deps.Verification.VerifyLink)
	api.POST("/resend-verification", with(deps.Verification.Resend)...)

	api.POST("/verify-login", deps.Credentials.Login)
	api.POST("/send-verification", with(deps.Credentials.SendVerification)...)
	api.POST("/request-password-reset", with(deps.Credentials.RequestPasswordReset)...)
	api.POST("/reset-password", deps.Credentials.ResetPassword)

	api.POST("/sendgrid-events", deps.Events.SendGridEvents)
	api.GET("/healthz", deps.Health.Healthz)

	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.Tokens))
	authGroup.GET("/me", deps.Credentials.Me)
}
