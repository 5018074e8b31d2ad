package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/LearnWiseAI/moodle-local-learnwise/internal/config"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/domain"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/repository"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/secret"
)

// TokenResponse is the token endpoint payload. ExpiresIn is computed at
// response time from the stored expiry, not from the configured TTL.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// ExchangeRequest carries the parsed token endpoint form.
type ExchangeRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	RefreshToken string
	ClientID     string
	ClientSecret string
}

// TokenService implements the token endpoint grants. Every successful
// exchange commits atomically: the consumed credential is gone and the new
// tokens exist, or neither happened.
type TokenService struct {
	store  repository.Store
	cfg    config.Config
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewTokenService wires dependencies.
func NewTokenService(store repository.Store, cfg config.Config, logger *zap.Logger) *TokenService {
	return &TokenService{
		store:  store,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("github.com/LearnWiseAI/moodle-local-learnwise/internal/service"),
		now:    time.Now,
	}
}

// Exchange dispatches on grant_type after authenticating the client.
func (s *TokenService) Exchange(ctx context.Context, req ExchangeRequest) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "TokenService.Exchange")
	defer span.End()

	if !s.cfg.Enabled {
		return nil, errServiceDisabled()
	}

	client, err := s.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	switch req.GrantType {
	case "authorization_code":
		return s.authorizationCodeGrant(ctx, client, req)
	case "refresh_token":
		return s.refreshTokenGrant(ctx, client, req)
	case "":
		return nil, newOAuthError("invalid_request", "grant_type is required.", http.StatusBadRequest)
	default:
		return nil, newOAuthError("unsupported_grant_type", fmt.Sprintf("Grant type %q is not supported.", req.GrantType), http.StatusBadRequest)
	}
}

// AuthenticateClient looks up the client and checks its secret. Lookup miss
// and secret mismatch produce the identical error so callers cannot probe
// for registered client ids.
func (s *TokenService) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (domain.Client, error) {
	id := strings.TrimSpace(clientID)
	if id == "" {
		return domain.Client{}, newOAuthError("invalid_client", "Client authentication failed.", http.StatusUnauthorized)
	}

	client, err := s.store.GetClient(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log().Warn("client lookup failed", zap.Error(err))
		}
		return domain.Client{}, newOAuthError("invalid_client", "Client authentication failed.", http.StatusUnauthorized)
	}

	if client.Public() {
		return client, nil
	}
	ok, err := secret.Verify(clientSecret, client.SecretHash)
	if err != nil || !ok {
		return domain.Client{}, newOAuthError("invalid_client", "Client authentication failed.", http.StatusUnauthorized)
	}
	return client, nil
}

func (s *TokenService) authorizationCodeGrant(ctx context.Context, client domain.Client, req ExchangeRequest) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "TokenService.authorizationCodeGrant")
	defer span.End()

	if strings.TrimSpace(req.Code) == "" {
		return nil, newOAuthError("invalid_request", "code is required.", http.StatusBadRequest)
	}

	var resp *TokenResponse
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		stored, err := tx.GetAuthorizationCode(ctx, req.Code)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return newOAuthError("invalid_grant", "Invalid authorization code.", http.StatusBadRequest)
			}
			return fmt.Errorf("load code: %w", err)
		}
		if !s.now().Before(stored.ExpiresAt) {
			return newOAuthError("invalid_grant", "Authorization code expired.", http.StatusBadRequest)
		}
		if stored.RedirectURI != req.RedirectURI {
			return newOAuthError("redirect_uri_mismatch", "redirect_uri does not match the authorization request.", http.StatusBadRequest)
		}

		grant, err := tx.GetGrant(ctx, stored.GrantID)
		if err != nil {
			return fmt.Errorf("load grant: %w", err)
		}
		if grant.ClientID != client.ID {
			return newOAuthError("invalid_grant", "Authorization code was issued to another client.", http.StatusBadRequest)
		}

		// Single-use: the delete doubles as the consumption check, so two
		// concurrent redemptions cannot both succeed.
		consumed, err := tx.DeleteAuthorizationCode(ctx, stored.Code)
		if err != nil {
			return fmt.Errorf("consume code: %w", err)
		}
		if !consumed {
			return newOAuthError("invalid_grant", "Invalid authorization code.", http.StatusBadRequest)
		}

		resp, err = s.issueTokens(ctx, tx, grant, stored.Scope)
		if err != nil {
			return err
		}
		resp.IDToken = stored.IDToken
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.audit("token.authorization_code.success", "client_id", client.UniqID, "grant_scope", resp.Scope)
	return resp, nil
}

func (s *TokenService) refreshTokenGrant(ctx context.Context, client domain.Client, req ExchangeRequest) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "TokenService.refreshTokenGrant")
	defer span.End()

	if strings.TrimSpace(req.RefreshToken) == "" {
		return nil, newOAuthError("invalid_request", "refresh_token is required.", http.StatusBadRequest)
	}

	var resp *TokenResponse
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		stored, err := tx.GetRefreshToken(ctx, req.RefreshToken)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return newOAuthError("invalid_grant", "Invalid refresh token.", http.StatusBadRequest)
			}
			return fmt.Errorf("load refresh token: %w", err)
		}
		if !s.now().Before(stored.ExpiresAt) {
			return newOAuthError("invalid_grant", "Refresh token expired.", http.StatusBadRequest)
		}

		grant, err := tx.GetGrant(ctx, stored.GrantID)
		if err != nil {
			return fmt.Errorf("load grant: %w", err)
		}
		if grant.ClientID != client.ID {
			return newOAuthError("invalid_grant", "Refresh token was issued to another client.", http.StatusBadRequest)
		}

		// Rotation consumes the presented token. Losing the delete race
		// means another request already rotated it.
		rotated, err := tx.DeleteRefreshToken(ctx, stored.Token)
		if err != nil {
			return fmt.Errorf("consume refresh token: %w", err)
		}
		if !rotated {
			return newOAuthError("invalid_grant", "Invalid refresh token.", http.StatusBadRequest)
		}

		resp, err = s.issueTokens(ctx, tx, grant, stored.Scope)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.audit("token.refresh.success", "client_id", client.UniqID)
	return resp, nil
}

// issueTokens mints a fresh access/refresh pair for the grant. The access
// token replaces the grant's previous one unless multiple tokens are allowed.
func (s *TokenService) issueTokens(ctx context.Context, tx repository.Store, grant domain.Grant, scope string) (*TokenResponse, error) {
	now := s.now()

	access := domain.AccessToken{
		Token:     randomToken(32),
		GrantID:   grant.ID,
		Scope:     scope,
		ExpiresAt: now.Add(s.cfg.AccessTokenTTL),
	}
	if s.cfg.MultipleAccessTokens {
		if err := tx.InsertAccessToken(ctx, access); err != nil {
			return nil, fmt.Errorf("persist access token: %w", err)
		}
	} else {
		if err := tx.UpsertAccessToken(ctx, access); err != nil {
			return nil, fmt.Errorf("persist access token: %w", err)
		}
	}

	refresh := domain.RefreshToken{
		Token:     randomToken(32),
		GrantID:   grant.ID,
		Scope:     scope,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}
	if err := tx.InsertRefreshToken(ctx, refresh); err != nil {
		return nil, fmt.Errorf("persist refresh token: %w", err)
	}

	return &TokenResponse{
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		TokenType:    "bearer",
		ExpiresIn:    int(access.ExpiresAt.Sub(s.now()).Seconds()),
		Scope:        scope,
	}, nil
}

// Revoke invalidates an access or refresh token after authenticating the
// client. Unknown tokens succeed silently per RFC 7009.
func (s *TokenService) Revoke(ctx context.Context, clientID, clientSecret, token string) error {
	ctx, span := s.startSpan(ctx, "TokenService.Revoke")
	defer span.End()

	if !s.cfg.Enabled {
		return errServiceDisabled()
	}

	client, err := s.AuthenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if strings.TrimSpace(token) == "" {
		return newOAuthError("invalid_request", "token is required.", http.StatusBadRequest)
	}

	kind := ""
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		stored, err := tx.GetRefreshToken(ctx, token)
		if err == nil {
			// Revoking a refresh token also cuts off the grant's live
			// access tokens, so the session dies in one call.
			if _, err := tx.DeleteRefreshToken(ctx, stored.Token); err != nil {
				return fmt.Errorf("revoke refresh token: %w", err)
			}
			if _, err := tx.DeleteAccessTokensForGrant(ctx, stored.GrantID); err != nil {
				return fmt.Errorf("revoke grant access tokens: %w", err)
			}
			kind = "refresh"
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("load refresh token: %w", err)
		}

		deleted, err := tx.DeleteAccessToken(ctx, token)
		if err != nil {
			return fmt.Errorf("revoke access token: %w", err)
		}
		if deleted {
			kind = "access"
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	if kind != "" {
		s.audit("token.revoked", "client_id", client.UniqID, "kind", kind)
	}
	return nil
}

func (s *TokenService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *TokenService) audit(event string, attrs ...any) {
	logger := s.log()
	if logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (s *TokenService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

func randomToken(n int) string {
	if n <= 0 {
		n = 32
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
