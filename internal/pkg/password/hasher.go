// Package password hashes and verifies user secrets.
//
// Secrets are reduced to a fixed-length sha256 digest before bcrypt so that
// bcrypt's 72 byte input limit cannot silently truncate long passwords and
// very long inputs cannot inflate hashing time.
package password

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher is safe for concurrent use.
type Hasher struct {
	cost int
}

func NewHasher(cost int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be in [%d, %d], got %d", bcrypt.MinCost, bcrypt.MaxCost, cost)
	}
	return &Hasher{cost: cost}, nil
}

// Hash returns a self-describing bcrypt string ($2a$<cost>$<salt><digest>).
func (h *Hasher) Hash(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(prehash(secret), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify never fails loudly: a mismatch or an unparsable hash is just false.
func (h *Hasher) Verify(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), prehash(secret)) == nil
}

// NeedsRehash reports whether hash was produced with a different cost.
func (h *Hasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost != h.cost
}

// prehash encodes the digest as base64 so the bcrypt input never holds NUL bytes.
func prehash(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}
