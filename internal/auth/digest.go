package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultDigestCost is the bcrypt cost applied when none is configured.
const DefaultDigestCost = 10

// Digest is the one-way hash primitive shared by password storage and
// refresh-token digests.
type Digest struct {
	cost int
}

// NewDigest constructs a Digest with the given bcrypt cost. Costs outside
// bcrypt's supported range fall back to DefaultDigestCost.
func NewDigest(cost int) Digest {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultDigestCost
	}
	return Digest{cost: cost}
}

// Hash digests plaintext. Internal bcrypt faults are terminal, never
// swallowed.
func (d Digest) Hash(plaintext string) (string, error) {
	if len(plaintext) == 0 {
		return "", errors.New("auth: plaintext is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), d.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing failed: %w", err)
	}
	return string(hash), nil
}

// Compare reports whether plaintext digests to the stored value.
func (d Digest) Compare(plaintext, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// HashToken digests an opaque token such as a signed refresh JWT. Signed
// tokens routinely exceed bcrypt's 72-byte input limit, so the token is
// reduced to its SHA-256 sum first. Verify with CompareToken.
func (d Digest) HashToken(token string) (string, error) {
	if len(token) == 0 {
		return "", errors.New("auth: token is empty")
	}
	return d.Hash(tokenSum(token))
}

// CompareToken reports whether token digests to the stored value produced by
// HashToken.
func (d Digest) CompareToken(token, digest string) bool {
	if token == "" {
		return false
	}
	return d.Compare(tokenSum(token), digest)
}

func tokenSum(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
