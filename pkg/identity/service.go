package identity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	sctxerrors "github.com/leoric-crown/shared-context-server/pkg/errors"
	"github.com/leoric-crown/shared-context-server/pkg/storage"
)

// Config configures the service's signing keys and default token lifetime.
type Config struct {
	CurrentSecret  string
	PreviousSecret string
	TokenTTL       time.Duration
}

// Service implements authenticate/resolve/refresh/revoke against the
// storage engine, backed by an in-process resolve cache.
type Service struct {
	engine *storage.Engine
	keys   *keyring
	ttl    time.Duration
	cache  *resolveCache
}

func NewService(engine *storage.Engine, cfg Config) (*Service, error) {
	keys, err := newKeyring(cfg.CurrentSecret, cfg.PreviousSecret)
	if err != nil {
		return nil, err
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{engine: engine, keys: keys, ttl: ttl, cache: newResolveCache()}, nil
}

// AuthenticateResult is what authenticate_agent returns to the caller.
type AuthenticateResult struct {
	AgentID     string       `json:"agent_id"`
	Token       string       `json:"token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	Permissions []Permission `json:"permissions"`
}

// Authenticate mints a fresh opaque token for (agentID, agentType),
// intersecting requested permissions against policy.
func (s *Service) Authenticate(ctx context.Context, agentID string, agentType AgentType, requested []Permission) (*AuthenticateResult, error) {
	if agentID == "" || len(agentID) > 64 {
		return nil, sctxerrors.Validation("agent_id must be 1..64 characters")
	}
	if !ValidAgentType(agentType) {
		return nil, sctxerrors.Validation("agent_type must be one of the recognized enum values")
	}

	permissions := intersectPermissions(agentType, requested)

	tokenID := uuid.NewString()
	now := time.Now().UTC()
	expiresAt := now.Add(s.ttl)

	ident := Identity{
		AgentID:         agentID,
		AgentType:       agentType,
		Permissions:     permissions,
		TokenID:         tokenID,
		AuthenticatedAt: now,
	}

	bearer, err := s.keys.sign(tokenID, ident, s.ttl)
	if err != nil {
		return nil, sctxerrors.Internal("", err)
	}

	if err := s.insertToken(ctx, tokenID, ident, bearer, now, expiresAt); err != nil {
		return nil, sctxerrors.Storage("failed to persist token", err)
	}

	return &AuthenticateResult{
		AgentID:     agentID,
		Token:       opaqueToken(tokenID),
		TokenType:   "Protected",
		ExpiresAt:   expiresAt,
		Permissions: permissions,
	}, nil
}

func (s *Service) insertToken(ctx context.Context, tokenID string, ident Identity, bearer string, issuedAt, expiresAt time.Time) error {
	_, err := s.engine.DB().ExecContext(ctx,
		`INSERT INTO tokens (token_id, agent_id, agent_type, permissions, issued_at, expires_at, revoked, bearer_token)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		tokenID, ident.AgentID, string(ident.AgentType), encodePermissions(ident.Permissions),
		issuedAt.Format(time.RFC3339Nano), expiresAt.Format(time.RFC3339Nano), bearer)
	return err
}

type tokenRow struct {
	AgentID     string
	AgentType   AgentType
	Permissions []Permission
	ExpiresAt   time.Time
	Revoked     bool
	Bearer      string
}

func (s *Service) lookupToken(ctx context.Context, tokenID string) (*tokenRow, error) {
	var agentID, agentType, permsCSV, expiresAtStr, bearer string
	var revoked int
	err := s.engine.DB().QueryRowContext(ctx,
		"SELECT agent_id, agent_type, permissions, expires_at, revoked, bearer_token FROM tokens WHERE token_id = ?",
		tokenID,
	).Scan(&agentID, &agentType, &permsCSV, &expiresAtStr, &revoked, &bearer)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	expiresAt, err := time.Parse(time.RFC3339Nano, expiresAtStr)
	if err != nil {
		return nil, err
	}

	return &tokenRow{
		AgentID:     agentID,
		AgentType:   AgentType(agentType),
		Permissions: decodePermissions(permsCSV),
		ExpiresAt:   expiresAt,
		Revoked:     revoked != 0,
		Bearer:      bearer,
	}, nil
}

// Resolve maps an opaque external token to the identity it authorizes.
// Resolution is O(1) amortized via the resolve cache; a cache hit is still
// bounded to the token's real expiry, never outliving it.
func (s *Service) Resolve(ctx context.Context, token string) (*Identity, error) {
	tokenID, ok := tokenIDFromOpaque(token)
	if !ok {
		return nil, sctxerrors.InvalidToken("invalid token format")
	}

	// Cache entries are stored with a TTL bounded by the token's own expiry
	// (see the set() call below), so a hit is always still live.
	if cached, ok := s.cache.get(token); ok {
		return &cached, nil
	}

	row, err := s.lookupToken(ctx, tokenID)
	if err != nil {
		return nil, sctxerrors.Storage("failed to look up token", err)
	}
	if row == nil {
		return nil, sctxerrors.InvalidToken("invalid token")
	}
	if row.Revoked {
		return nil, sctxerrors.InvalidToken("token has been revoked")
	}

	now := time.Now().UTC()
	if !now.Before(row.ExpiresAt) {
		return nil, sctxerrors.TokenExpired("token has expired")
	}

	if _, err := s.keys.parse(row.Bearer); err != nil {
		return nil, sctxerrors.Internal("", fmt.Errorf("stored bearer failed verification: %w", err))
	}

	ident := Identity{
		AgentID:         row.AgentID,
		AgentType:       row.AgentType,
		Permissions:     row.Permissions,
		TokenID:         tokenID,
		AuthenticatedAt: now,
	}

	s.cache.set(token, ident, cacheTTL(row.ExpiresAt.Sub(now)))

	return &ident, nil
}

// Refresh rotates the token: a new opaque token/bearer pair is minted for
// the same identity and the old token is revoked. The caller's old token
// stays valid for at most one cache interval, matching spec's "old token
// becomes unauthorized within at most one cache interval".
func (s *Service) Refresh(ctx context.Context, token string) (*AuthenticateResult, error) {
	ident, err := s.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	result, err := s.Authenticate(ctx, ident.AgentID, ident.AgentType, ident.Permissions)
	if err != nil {
		return nil, err
	}

	if err := s.Revoke(ctx, token); err != nil {
		return nil, err
	}

	return result, nil
}

// Revoke marks the token unusable. Revoking a token that is unknown,
// already revoked or already expired fails with NotFound.
func (s *Service) Revoke(ctx context.Context, token string) error {
	tokenID, ok := tokenIDFromOpaque(token)
	if !ok {
		return sctxerrors.NotFound("token not found")
	}

	row, err := s.lookupToken(ctx, tokenID)
	if err != nil {
		return sctxerrors.Storage("failed to look up token", err)
	}
	if row == nil || row.Revoked || !time.Now().UTC().Before(row.ExpiresAt) {
		return sctxerrors.NotFound("token not found")
	}

	res, err := s.engine.DB().ExecContext(ctx, "UPDATE tokens SET revoked = 1 WHERE token_id = ? AND revoked = 0", tokenID)
	if err != nil {
		return sctxerrors.Storage("failed to revoke token", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return sctxerrors.Storage("failed to confirm revocation", err)
	}
	if n == 0 {
		return sctxerrors.NotFound("token not found")
	}

	s.cache.invalidate(token)
	return nil
}

// CacheHitRatio exposes the resolve cache's hit ratio for C9.
func (s *Service) CacheHitRatio() float64 { return s.cache.HitRatio() }

func encodePermissions(perms []Permission) string {
	out := ""
	for i, p := range perms {
		if i > 0 {
			out += ","
		}
		out += string(p)
	}
	return out
}

func decodePermissions(csv string) []Permission {
	if csv == "" {
		return nil
	}
	var out []Permission
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if i > start {
				out = append(out, Permission(csv[start:i]))
			}
			start = i + 1
		}
	}
	return out
}
