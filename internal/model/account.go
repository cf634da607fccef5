package model

type Account struct {
	ID           string    `json:"id"`
	Partition    Partition `json:"-"`
	Role         Role      `json:"role"`
	Name         string    `json:"name"`
	CompanyName  string    `json:"company_name,omitempty"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	PasswordHash string    `json:"-"`
	Verified     bool      `json:"verified"`
	// VerifiedAt is the last time the email was confirmed. A bounce clears
	// Verified but keeps VerifiedAt.
	VerifiedAt   int64     `json:"-"`
	Ctime        int64     `json:"ctime"`
	Mtime        int64     `json:"mtime"`
}

func (a *Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// EverVerified reports whether the email was confirmed at some point, even
// if a later bounce revoked it.
func (a *Account) EverVerified() bool {
	return a.Verified || a.VerifiedAt > 0
}
