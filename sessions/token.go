package sessions

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-subs-manager/internal/errors"
	"golang.org/x/crypto/blake2b"
)

const (
	idBytes      = 32 // 256 bits
	secretBytes  = 32
	tokenSep     = "."
	maxTokenSize = 256
)

// Token is the value carried by the session cookie. Secret is only set when
// secrets are hashed; the cookie then reads "<id>.<secret>".
type Token struct {
	ID     string
	Secret string
}

func (t Token) String() string {
	if t.Secret == "" {
		return t.ID
	}
	return t.ID + tokenSep + t.Secret
}

// ParseToken splits a presented cookie value. With hashed secrets the value must be an id.secret pair.
func ParseToken(raw string, hashedSecrets bool) (Token, error) {
	if raw == "" || len(raw) > maxTokenSize {
		return Token{}, fmt.Errorf("%w: malformed session token", apperrors.ErrValidation)
	}
	if !hashedSecrets {
		if strings.Contains(raw, tokenSep) {
			return Token{}, fmt.Errorf("%w: malformed session token", apperrors.ErrValidation)
		}
		return Token{ID: raw}, nil
	}
	id, secret, ok := strings.Cut(raw, tokenSep)
	if !ok || id == "" || secret == "" {
		return Token{}, fmt.Errorf("%w: malformed session token", apperrors.ErrValidation)
	}
	return Token{ID: id, Secret: secret}, nil
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// newSessionID returns a high-entropy opaque id. In hashed mode the id is not
// secret and a uuid is enough; the secret half carries the entropy.
func newSessionID(hashedSecrets bool) (string, error) {
	if hashedSecrets {
		return uuid.NewString(), nil
	}
	return randomString(idBytes)
}

// secretHasher computes a keyed blake2b-256 hash so a copy of the store alone cannot mint valid tokens.
type secretHasher struct {
	key []byte
}

func (h secretHasher) hash(secret string) (string, error) {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		return "", fmt.Errorf("blake2b: %w", err)
	}
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// matchesAny reports whether secret hashes to one of the stored hashes.
func (h secretHasher) matchesAny(secret string, storedHashes map[string]int64) bool {
	presented, err := h.hash(secret)
	if err != nil {
		return false
	}
	found := false
	for stored := range storedHashes {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1 {
			found = true
		}
	}
	return found
}

// evictOldest trims hashes to keep entries, oldest first, and returns the record fields to remove.
func evictOldest(hashes map[string]int64, keep int) []string {
	if len(hashes) <= keep {
		return nil
	}
	byAge := make([]string, 0, len(hashes))
	for hash := range hashes {
		byAge = append(byAge, hash)
	}
	sort.Slice(byAge, func(i, j int) bool {
		if hashes[byAge[i]] != hashes[byAge[j]] {
			return hashes[byAge[i]] < hashes[byAge[j]]
		}
		return byAge[i] < byAge[j]
	})

	var evicted []string
	for _, hash := range byAge[:len(byAge)-keep] {
		delete(hashes, hash)
		evicted = append(evicted, fieldSecretHashPrefix+hash)
	}
	return evicted
}
