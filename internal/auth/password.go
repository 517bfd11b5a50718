package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt ignores input past this length.
const maxPasswordBytes = 72

// VerifyPassword reports whether candidate matches the stored bcrypt hash.
// Malformed or unsupported hashes never match, and neither do candidates
// longer than bcrypt can hash.
func VerifyPassword(passwordHash, candidate string) bool {
	if passwordHash == "" || len(candidate) > maxPasswordBytes {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(candidate)) == nil
}

func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}
