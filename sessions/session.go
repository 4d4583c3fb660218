package sessions

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-subs-manager/internal/errors"
)

// SchemaVersion is the version written into every session record.
const SchemaVersion = 1

// Record field names.
const (
	fieldExternalAccountID = "external_account_id"
	fieldDisplayName       = "display_name"
	fieldAccessToken       = "access_token"
	fieldRefreshToken      = "refresh_token"
	fieldAccessExpiresAt   = "access_token_expires_at"
	fieldCreatedAt         = "created_at"
	fieldSchemaVersion     = "schema_version"

	// One field per issued secret: "secret_hash:<hex hash>" = issued-at epoch seconds
	fieldSecretHashPrefix = "secret_hash:"
)

// MaxSecretsPerSession bounds the secrets kept for one hardened session. Logging in
// from one more device drops the oldest secret.
const MaxSecretsPerSession = 16

// Tokens are the delegated provider credentials held by a session.
type Tokens struct {
	AccessToken          string
	RefreshToken         string
	AccessTokenExpiresAt int64 // epoch seconds
}

// Identity is what a successful provider login hands to the Manager.
type Identity struct {
	ExternalAccountID string // provider subject id
	DisplayName       string
	Tokens            Tokens
}

// Session is a validated server-side session record.
type Session struct {
	ID                string
	ExternalAccountID string
	DisplayName       string
	Tokens
	CreatedAt     int64
	SchemaVersion int
	// SecretHashes maps the keyed hash of every live secret to the time it was issued.
	SecretHashes map[string]int64

	// ExpiresAt is not stored; it is the sliding expiry computed on validation.
	ExpiresAt time.Time
}

func (s *Session) toFields() map[string]string {
	fields := map[string]string{
		fieldExternalAccountID: s.ExternalAccountID,
		fieldDisplayName:       s.DisplayName,
		fieldCreatedAt:         strconv.FormatInt(s.CreatedAt, 10),
		fieldSchemaVersion:     strconv.Itoa(SchemaVersion),
	}
	for k, v := range tokenFields(s.Tokens) {
		fields[k] = v
	}
	for hash, issuedAt := range s.SecretHashes {
		fields[fieldSecretHashPrefix+hash] = strconv.FormatInt(issuedAt, 10)
	}
	return fields
}

func tokenFields(t Tokens) map[string]string {
	return map[string]string{
		fieldAccessToken:     t.AccessToken,
		fieldRefreshToken:    t.RefreshToken,
		fieldAccessExpiresAt: strconv.FormatInt(t.AccessTokenExpiresAt, 10),
	}
}

// legacyFields maps the camelCase field names of unversioned records onto version 1 names.
var legacyFields = map[string]string{
	"googleUserId":         fieldExternalAccountID,
	"username":             fieldDisplayName,
	"accessToken":          fieldAccessToken,
	"refreshToken":         fieldRefreshToken,
	"accessTokenExpiresAt": fieldAccessExpiresAt,
}

// migrate upgrades a raw record to the current schema. Records without a
// schema_version predate versioning and use the legacy field names.
func migrate(fields map[string]string) (map[string]string, error) {
	raw, ok := fields[fieldSchemaVersion]
	if !ok {
		upgraded := make(map[string]string, len(fields)+2)
		for k, v := range fields {
			if renamed, ok := legacyFields[k]; ok {
				k = renamed
			}
			upgraded[k] = v
		}
		if _, ok := upgraded[fieldAccessExpiresAt]; !ok {
			upgraded[fieldAccessExpiresAt] = "0" // forces a refresh on first use
		}
		if _, ok := upgraded[fieldCreatedAt]; !ok {
			upgraded[fieldCreatedAt] = "0"
		}
		upgraded[fieldSchemaVersion] = strconv.Itoa(SchemaVersion)
		return upgraded, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: schema_version %q", apperrors.ErrValidation, raw)
	}
	if v != SchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema_version %d", apperrors.ErrValidation, v)
	}
	return fields, nil
}

// parseRecord validates a raw store record into a Session. It never returns a partially filled Session.
func parseRecord(id string, raw map[string]string, requireSecret bool) (*Session, error) {
	fields, err := migrate(raw)
	if err != nil {
		return nil, err
	}

	required := func(name string) (string, error) {
		v, ok := fields[name]
		if !ok || v == "" {
			return "", fmt.Errorf("%w: missing %s", apperrors.ErrValidation, name)
		}
		return v, nil
	}
	integer := func(name string) (int64, error) {
		v, err := required(name)
		if err != nil {
			return 0, err
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s is not an integer", apperrors.ErrValidation, name)
		}
		return n, nil
	}

	s := &Session{ID: id, SchemaVersion: SchemaVersion}
	if s.ExternalAccountID, err = required(fieldExternalAccountID); err != nil {
		return nil, err
	}
	if s.AccessToken, err = required(fieldAccessToken); err != nil {
		return nil, err
	}
	if s.AccessTokenExpiresAt, err = integer(fieldAccessExpiresAt); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = integer(fieldCreatedAt); err != nil {
		return nil, err
	}
	s.DisplayName = fields[fieldDisplayName]
	s.RefreshToken = fields[fieldRefreshToken]
	for name, v := range fields {
		hash, ok := strings.CutPrefix(name, fieldSecretHashPrefix)
		if !ok {
			continue
		}
		issuedAt, err := strconv.ParseInt(v, 10, 64)
		if err != nil || hash == "" {
			return nil, fmt.Errorf("%w: malformed %s field", apperrors.ErrValidation, fieldSecretHashPrefix)
		}
		if s.SecretHashes == nil {
			s.SecretHashes = make(map[string]int64)
		}
		s.SecretHashes[hash] = issuedAt
	}
	if requireSecret && len(s.SecretHashes) == 0 {
		return nil, fmt.Errorf("%w: no secret hash", apperrors.ErrValidation)
	}
	return s, nil
}
