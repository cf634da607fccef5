package jwt

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/xxxsen/onboard/internal/model"
)

const Issuer = "onboard"

var ErrInvalidClaims = errors.New("invalid claims")

// Claims identify one account row: the role picks the partition and the
// account id the row inside it.
type Claims struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	jwtlib.RegisteredClaims
}

// AccountRole is the parsed role. Claims returned by Signer.Parse always
// carry a known one.
func (c *Claims) AccountRole() (model.Role, bool) {
	return model.ParseRole(c.Role)
}

type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret []byte, ttl time.Duration) *Signer {
	return &Signer{secret: secret, ttl: ttl, now: time.Now}
}

// Sign issues a session token for the account. Accounts stored without a
// role get their partition's default.
func (s *Signer) Sign(account *model.Account) (string, error) {
	if account == nil || account.ID == "" {
		return "", fmt.Errorf("%w: account id", ErrInvalidClaims)
	}
	role := account.Role
	if role == "" {
		role = account.Partition.DefaultRole()
	}
	now := s.now()
	claims := Claims{
		AccountID: account.ID,
		Email:     account.Email,
		Role:      string(role),
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   account.ID,
			ExpiresAt: jwtlib.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Parse verifies signature, issuer and expiry, then rejects claims that
// cannot address an account.
func (s *Signer) Parse(tokenString string) (*Claims, error) {
	token, err := jwtlib.ParseWithClaims(tokenString, &Claims{}, func(*jwtlib.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(Issuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if claims.AccountID == "" || claims.Subject != claims.AccountID {
		return nil, fmt.Errorf("%w: account id", ErrInvalidClaims)
	}
	if _, ok := claims.AccountRole(); !ok {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidClaims, claims.Role)
	}
	return claims, nil
}
