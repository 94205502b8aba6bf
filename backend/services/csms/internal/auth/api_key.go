package auth

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// KeyVerifier checks the X-API-Key credential. The key is either kept in plain text or as a
// bcrypt hash; the hash wins when both are configured.
type KeyVerifier struct {
	key  []byte
	hash []byte
}

func NewKeyVerifier(key, hash string) *KeyVerifier {
	v := &KeyVerifier{}
	if key = strings.TrimSpace(key); key != "" {
		v.key = []byte(key)
	}
	if hash = strings.TrimSpace(hash); hash != "" {
		v.hash = []byte(hash)
	}
	return v
}

// Configured reports whether any key is set.
func (v *KeyVerifier) Configured() bool {
	return len(v.key) > 0 || len(v.hash) > 0
}

// Verify reports whether supplied matches the configured key.
func (v *KeyVerifier) Verify(supplied string) bool {
	if supplied == "" {
		return false
	}
	if len(v.hash) > 0 {
		return bcrypt.CompareHashAndPassword(v.hash, []byte(supplied)) == nil
	}
	if len(v.key) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(v.key, []byte(supplied)) == 1
}

// HashKey returns a bcrypt hash suitable for the api key hash setting.
func HashKey(key string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
