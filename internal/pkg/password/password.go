package password

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinLength = 8
	// bcrypt ignores everything past 72 bytes.
	MaxLength = 72
)

// Hash is used for account passwords and staged pending secrets.
func Hash(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func Compare(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}

func Acceptable(plain string) bool {
	return len(plain) >= MinLength && len(plain) <= MaxLength
}

// Digest hashes a short-lived verification secret. It is deterministic so
// the datastore can match a submitted code inside a conditional update.
func Digest(code string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(code)))
	return hex.EncodeToString(sum[:])
}
