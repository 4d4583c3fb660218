package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/go-subs-manager/internal/errors"
	"github.com/jrsteele09/go-subs-manager/store"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"
)

const (
	sessionKeyPrefix  = "session:"
	identityKeyPrefix = "identity_session:"
)

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func identityKey(externalAccountID string) string {
	return identityKeyPrefix + externalAccountID
}

// Manager owns session records and the identity→session index.
//
// Lifecycle: absent → pending (record written, index not yet claimed) → active →
// active with refreshed tokens → expired or deleted. Concurrent logins for one
// identity converge on the session whose id won the index claim.
type Manager struct {
	store    store.Store
	lifetime time.Duration
	hashed   bool
	hasher   secretHasher
	nowFunc  func() time.Time
}

type ManagerOption func(*Manager)

// WithHashedSecrets switches to id.secret tokens; only a keyed hash of the secret is stored.
func WithHashedSecrets(key []byte) ManagerOption {
	return func(m *Manager) {
		if len(key) > blake2b.Size {
			sum := blake2b.Sum256(key)
			key = sum[:]
		}
		m.hashed = true
		m.hasher = secretHasher{key: key}
	}
}

func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

func NewManager(s store.Store, lifetime time.Duration, options ...ManagerOption) *Manager {
	m := &Manager{
		store:    s,
		lifetime: lifetime,
	}
	for _, opt := range options {
		opt(m)
	}
	if m.lifetime <= 0 {
		m.lifetime = 24 * time.Hour
	}
	if m.nowFunc == nil {
		m.nowFunc = time.Now
	}
	return m
}

// Lifetime is the TTL applied to records, index entries and cookies.
func (m *Manager) Lifetime() time.Duration {
	return m.lifetime
}

// HashedSecrets reports whether tokens are id.secret pairs.
func (m *Manager) HashedSecrets() bool {
	return m.hashed
}

// CreateOrReuse returns the token of the identity's current session, creating one when none exists.
// Re-login refreshes the stored provider tokens and extends both TTLs.
func (m *Manager) CreateOrReuse(ctx context.Context, ident Identity) (Token, error) {
	if ident.ExternalAccountID == "" {
		return Token{}, fmt.Errorf("%w: identity without account id", apperrors.ErrValidation)
	}
	idxKey := identityKey(ident.ExternalAccountID)

	existingID, err := m.store.Get(ctx, idxKey)
	switch {
	case err == nil:
		tok, reused, err := m.reuse(ctx, existingID, ident)
		if err != nil {
			return Token{}, err
		}
		if reused {
			return tok, nil
		}
		// The index outlived its record; forget it and start over.
		if err := m.store.Delete(ctx, idxKey); err != nil {
			return Token{}, err
		}
	case !errors.Is(err, store.ErrNotFound):
		return Token{}, err
	}

	id, err := newSessionID(m.hashed)
	if err != nil {
		return Token{}, err
	}

	tok := Token{ID: id}
	sess := &Session{
		ID:                id,
		ExternalAccountID: ident.ExternalAccountID,
		DisplayName:       ident.DisplayName,
		Tokens:            ident.Tokens,
		CreatedAt:         m.nowFunc().Unix(),
	}
	if m.hashed {
		var hash string
		if tok.Secret, hash, err = m.newSecret(); err != nil {
			return Token{}, err
		}
		sess.SecretHashes = map[string]int64{hash: sess.CreatedAt}
	}

	// The record is written before the index is claimed so the index never points at a pending record.
	if err := m.store.HashSet(ctx, sessionKey(id), sess.toFields(), m.lifetime); err != nil {
		return Token{}, err
	}

	claimed, err := m.store.Set(ctx, idxKey, id, store.SetOptions{TTL: m.lifetime, OnlyIfAbsent: true})
	if err == nil && !claimed {
		err = m.store.Delete(ctx, sessionKey(id))
		if err == nil {
			return m.adoptWinner(ctx, idxKey, ident)
		}
	}
	if err != nil {
		if delErr := m.store.Delete(ctx, sessionKey(id)); delErr != nil {
			log.Err(delErr).Str("identity", ident.ExternalAccountID).Msg("failed to remove unclaimed session record")
		}
		return Token{}, err
	}

	log.Info().Str("identity", ident.ExternalAccountID).Msg("session created")
	return tok, nil
}

// adoptWinner handles a lost index claim: another request created the identity's session first.
func (m *Manager) adoptWinner(ctx context.Context, idxKey string, ident Identity) (Token, error) {
	winner, err := m.store.Get(ctx, idxKey)
	if errors.Is(err, store.ErrNotFound) {
		return Token{}, apperrors.ErrSessionPending
	}
	if err != nil {
		return Token{}, err
	}

	tok, reused, err := m.reuse(ctx, winner, ident)
	if err != nil {
		return Token{}, err
	}
	if !reused {
		// The winner's record vanished between its claim and our read.
		return Token{}, apperrors.ErrSessionPending
	}
	return tok, nil
}

// reuse refreshes an existing record. reused is false when the record is gone or unreadable.
func (m *Manager) reuse(ctx context.Context, id string, ident Identity) (Token, bool, error) {
	raw, err := m.store.HashGetAll(ctx, sessionKey(id))
	if err != nil {
		return Token{}, false, err
	}
	if len(raw) == 0 {
		return Token{}, false, nil
	}
	existing, err := parseRecord(id, raw, m.hashed)
	if err != nil {
		log.Warn().Err(err).Str("identity", ident.ExternalAccountID).Msg("discarding corrupt session record")
		if err := m.store.Delete(ctx, sessionKey(id)); err != nil {
			return Token{}, false, err
		}
		return Token{}, false, nil
	}

	updated := &Session{
		ID:                id,
		ExternalAccountID: ident.ExternalAccountID,
		DisplayName:       ident.DisplayName,
		Tokens:            ident.Tokens,
		CreatedAt:         existing.CreatedAt,
		SecretHashes:      existing.SecretHashes,
	}
	if updated.RefreshToken == "" {
		// Providers only return a refresh token on first consent.
		updated.RefreshToken = existing.RefreshToken
	}

	// Secrets already handed out stay valid; this login gets one of its own.
	tok := Token{ID: id}
	var evicted []string
	if m.hashed {
		var hash string
		if tok.Secret, hash, err = m.newSecret(); err != nil {
			return Token{}, false, err
		}
		updated.SecretHashes[hash] = m.nowFunc().Unix()
		evicted = evictOldest(updated.SecretHashes, MaxSecretsPerSession)
	}

	if err := m.store.HashSet(ctx, sessionKey(id), updated.toFields(), m.lifetime); err != nil {
		return Token{}, false, err
	}
	if err := m.store.HashDeleteFields(ctx, sessionKey(id), evicted...); err != nil {
		return Token{}, false, err
	}
	if err := m.store.Expire(ctx, identityKey(ident.ExternalAccountID), m.lifetime); err != nil {
		return Token{}, false, err
	}

	log.Debug().Str("identity", ident.ExternalAccountID).Msg("session reused")
	return tok, true, nil
}

func (m *Manager) newSecret() (secret, hash string, err error) {
	if secret, err = randomString(secretBytes); err != nil {
		return "", "", err
	}
	if hash, err = m.hasher.hash(secret); err != nil {
		return "", "", err
	}
	return secret, hash, nil
}

// Validate resolves a presented token to its session and slides the expiry of the record and its index entry.
// Unknown, malformed and corrupt sessions all yield ErrSessionNotFound.
func (m *Manager) Validate(ctx context.Context, rawToken string) (*Session, error) {
	tok, err := ParseToken(rawToken, m.hashed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrSessionNotFound, err)
	}

	key := sessionKey(tok.ID)
	raw, err := m.store.HashGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, apperrors.ErrSessionNotFound
	}

	sess, err := parseRecord(tok.ID, raw, m.hashed)
	if err != nil {
		log.Warn().Err(err).Str("session", tok.ID).Msg("invalid session data")
		if delErr := m.store.Delete(ctx, key); delErr != nil {
			log.Err(delErr).Str("session", tok.ID).Msg("failed to delete invalid session")
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrSessionNotFound, err)
	}

	if m.hashed && !m.hasher.matchesAny(tok.Secret, sess.SecretHashes) {
		return nil, apperrors.ErrSessionNotFound
	}

	if err := m.store.Expire(ctx, key, m.lifetime); err != nil {
		return nil, err
	}
	if err := m.store.Expire(ctx, identityKey(sess.ExternalAccountID), m.lifetime); err != nil {
		log.Warn().Err(err).Str("identity", sess.ExternalAccountID).Msg("failed to extend identity index")
	}
	sess.ExpiresAt = m.nowFunc().Add(m.lifetime)
	return sess, nil
}

// UpdateTokens rewrites the provider tokens of a live session without touching its TTL.
func (m *Manager) UpdateTokens(ctx context.Context, sessionID string, tokens Tokens) error {
	key := sessionKey(sessionID)
	ttl, err := m.store.TTL(ctx, key)
	if err != nil {
		return err
	}
	if ttl == store.KeyMissing {
		return apperrors.ErrSessionNotFound
	}

	if err := m.store.HashSet(ctx, key, tokenFields(tokens), 0); err != nil {
		return err
	}

	// The record may have expired between the TTL read and the write, leaving a
	// token-only hash without expiry behind.
	ttl, err = m.store.TTL(ctx, key)
	if err != nil {
		return err
	}
	if ttl == store.NoExpiry {
		if err := m.store.Delete(ctx, key); err != nil {
			return err
		}
		return apperrors.ErrSessionNotFound
	}
	return nil
}

// Delete removes the session record and, if it still points at this session, the identity index entry.
func (m *Manager) Delete(ctx context.Context, sessionID, externalAccountID string) error {
	keys := []string{sessionKey(sessionID)}
	if externalAccountID != "" {
		idxKey := identityKey(externalAccountID)
		current, err := m.store.Get(ctx, idxKey)
		switch {
		case err == nil && current == sessionID:
			keys = append(keys, idxKey)
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return err
		}
	}
	if err := m.store.Delete(ctx, keys...); err != nil {
		return err
	}
	log.Info().Str("identity", externalAccountID).Msg("session deleted")
	return nil
}
