package model

const (
	FlowSignup     = "signup"
	FlowFirstLogin = "first_login"
	FlowReset      = "reset"
)

type VerificationToken struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Flow          string `json:"flow"`
	SessionID     string `json:"session_id"`
	CodeHash      string `json:"-"`
	PendingSecret string `json:"-"`
	Payload       []byte `json:"-"`
	Attempts      int    `json:"attempts"`
	Failures      int    `json:"failures"`
	Verified      bool   `json:"verified"`
	Superseded    bool   `json:"superseded"`
	Ctime         int64  `json:"ctime"`
	Mtime         int64  `json:"mtime"`
	ExpiresAt     int64  `json:"expires_at"`
}

func (t *VerificationToken) Expired(now int64) bool {
	return t.ExpiresAt <= now
}

func IsKnownFlow(flow string) bool {
	switch flow {
	case FlowSignup, FlowFirstLogin, FlowReset:
		return true
	}
	return false
}
