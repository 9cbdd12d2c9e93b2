// ABOUTME: Credential store issuing, verifying and revoking bcrypt-hashed API keys
// ABOUTME: Verified keys are cached by digest but revocation and expiry are rechecked on every hit

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/odoo-bridge/internal/store"
)

// Credential errors
var (
	ErrInvalidAPIKey    = errors.New("invalid api key")
	ErrInvalidRateLimit = errors.New("rate limit must be positive")
	ErrMissingOwner     = errors.New("owner label is required")
)

// KeyPrefix starts every issued API key.
const KeyPrefix = "omcp"

const (
	keyIDBytes     = 8
	keySecretBytes = 32

	// touchInterval limits last_used_at writes for busy keys.
	touchInterval = time.Minute
)

// CredentialOptions configures a CredentialStore.
type CredentialOptions struct {
	HashCost         int
	DefaultRateLimit int
	CacheTTL         time.Duration
	Logger           *slog.Logger
}

// IssueRequest describes a key to issue.
type IssueRequest struct {
	OwnerLabel         string
	RateLimitPerMinute int        // 0 means the default
	ExpiresAt          *time.Time // nil means never
}

// CredentialStore verifies presented API keys against hashed records.
type CredentialStore struct {
	keys         store.APIKeyStore
	cost         int
	defaultLimit int
	verified     *cache.Cache // digest of presented key -> key ID
	// dummyHash is compared against when the presented key names no stored
	// key, so unknown and wrong keys cost the same.
	dummyHash []byte
	logger    *slog.Logger
	now          func() time.Time
}

// NewCredentialStore creates a credential store over keys.
func NewCredentialStore(keys store.APIKeyStore, opts CredentialOptions) *CredentialStore {
	if opts.HashCost == 0 {
		opts.HashCost = bcrypt.DefaultCost
	}
	if opts.DefaultRateLimit <= 0 {
		opts.DefaultRateLimit = 300
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("component", "credentials")

	dummy, err := bcrypt.GenerateFromPassword([]byte("odoo-bridge-unknown-key"), opts.HashCost)
	if err != nil {
		logger.Warn("invalid hash cost, using default", "hash_cost", opts.HashCost, "error", err)
		opts.HashCost = bcrypt.DefaultCost
		dummy, _ = bcrypt.GenerateFromPassword([]byte("odoo-bridge-unknown-key"), opts.HashCost)
	}

	return &CredentialStore{
		keys:         keys,
		cost:         opts.HashCost,
		defaultLimit: opts.DefaultRateLimit,
		verified:     cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		dummyHash:    dummy,
		logger:       logger,
		now:          time.Now,
	}
}

// Issue creates a new key. The plaintext is returned exactly once and is
// never stored or logged.
func (c *CredentialStore) Issue(ctx context.Context, req IssueRequest) (*store.APIKey, string, error) {
	owner := strings.TrimSpace(req.OwnerLabel)
	if owner == "" {
		return nil, "", ErrMissingOwner
	}
	limit := req.RateLimitPerMinute
	if limit == 0 {
		limit = c.defaultLimit
	}
	if limit < 0 {
		return nil, "", ErrInvalidRateLimit
	}

	id, err := randomHex(keyIDBytes)
	if err != nil {
		return nil, "", err
	}
	secret, err := randomHex(keySecretBytes)
	if err != nil {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), c.cost)
	if err != nil {
		return nil, "", fmt.Errorf("hashing api key: %w", err)
	}

	key := &store.APIKey{
		ID:                 id,
		HashedSecret:       string(hash),
		OwnerLabel:         owner,
		RateLimitPerMinute: limit,
		CreatedAt:          c.now().UTC(),
		ExpiresAt:          req.ExpiresAt,
	}
	if err := c.keys.CreateAPIKey(ctx, key); err != nil {
		return nil, "", fmt.Errorf("storing api key: %w", err)
	}

	c.logger.Info("issued api key", "key_id", id, "owner", owner, "rate_limit", limit)
	return key, formatKey(id, secret), nil
}

// Verify returns the key record for a presented key, or ErrInvalidAPIKey if
// it is malformed, unknown, wrong, revoked or expired.
func (c *CredentialStore) Verify(ctx context.Context, presented string) (*store.APIKey, error) {
	digest := digestOf(presented)

	if cached, ok := c.verified.Get(digest); ok {
		key, err := c.keys.GetAPIKey(ctx, cached.(string))
		if err == nil && key.Usable(c.now()) {
			c.touch(ctx, key)
			return key, nil
		}
		c.verified.Delete(digest)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("loading api key: %w", err)
		}
		return nil, ErrInvalidAPIKey
	}

	id, secret, ok := parseKey(presented)
	if !ok {
		_ = bcrypt.CompareHashAndPassword(c.dummyHash, []byte(presented))
		return nil, ErrInvalidAPIKey
	}

	key, err := c.keys.GetAPIKey(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(c.dummyHash, []byte(secret))
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, fmt.Errorf("loading api key: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(key.HashedSecret), []byte(secret)); err != nil {
		return nil, ErrInvalidAPIKey
	}
	if !key.Usable(c.now()) {
		return nil, ErrInvalidAPIKey
	}

	c.verified.SetDefault(digest, key.ID)
	c.touch(ctx, key)
	return key, nil
}

// Revoke permanently disables a key and drops it from the verify cache.
func (c *CredentialStore) Revoke(ctx context.Context, id string) error {
	if err := c.keys.RevokeAPIKey(ctx, id); err != nil {
		return err
	}

	for digest, item := range c.verified.Items() {
		if item.Object == id {
			c.verified.Delete(digest)
		}
	}

	c.logger.Info("revoked api key", "key_id", id)
	return nil
}

// Get returns a key record by ID.
func (c *CredentialStore) Get(ctx context.Context, id string) (*store.APIKey, error) {
	return c.keys.GetAPIKey(ctx, id)
}

// List returns key records, newest first.
func (c *CredentialStore) List(ctx context.Context, includeRevoked bool) ([]*store.APIKey, error) {
	return c.keys.ListAPIKeys(ctx, includeRevoked)
}

// touch records key use, at most once per touchInterval.
func (c *CredentialStore) touch(ctx context.Context, key *store.APIKey) {
	now := c.now()
	if key.LastUsedAt != nil && now.Sub(*key.LastUsedAt) < touchInterval {
		return
	}
	if err := c.keys.TouchAPIKey(ctx, key.ID, now); err != nil {
		c.logger.Warn("failed to record api key use", "key_id", key.ID, "error", err)
	}
}

func formatKey(id, secret string) string {
	return KeyPrefix + "_" + id + "_" + secret
}

// parseKey splits omcp_<id>_<secret>, checking lengths and hex encoding.
func parseKey(presented string) (id, secret string, ok bool) {
	parts := strings.Split(presented, "_")
	if len(parts) != 3 || parts[0] != KeyPrefix {
		return "", "", false
	}
	id, secret = parts[1], parts[2]
	if len(id) != keyIDBytes*2 || len(secret) != keySecretBytes*2 {
		return "", "", false
	}
	if !isLowerHex(id) || !isLowerHex(secret) {
		return "", "", false
	}
	return id, secret, true
}

func isLowerHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func digestOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewRequestID returns an identifier for correlating one request across logs.
func NewRequestID() string {
	return uuid.New().String()
}
