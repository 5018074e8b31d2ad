package service

import (
	"context"
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
)

// Introspection is the RFC 7662 response shape.
type Introspection struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
}

// VerifierService resolves bearer tokens into principals for resource
// requests.
type VerifierService struct {
	store  repository.Store
	cfg    config.Config
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewVerifierService wires dependencies.
func NewVerifierService(store repository.Store, cfg config.Config, logger *zap.Logger) *VerifierService {
	return &VerifierService{
		store:  store,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("github.com/LearnWiseAI/moodle-local-learnwise/internal/service"),
		now:    time.Now,
	}
}

// VerifyToken resolves an access token into the principal it represents.
// Unknown and expired tokens are indistinguishable to the caller.
func (s *VerifierService) VerifyToken(ctx context.Context, token string) (domain.Principal, error) {
	ctx, span := s.startSpan(ctx, "VerifierService.VerifyToken")
	defer span.End()

	if !s.cfg.Enabled {
		return domain.Principal{}, errServiceDisabled()
	}
	if strings.TrimSpace(token) == "" {
		return domain.Principal{}, newOAuthError("invalid_request", "Bearer token required.", http.StatusUnauthorized)
	}

	stored, err := s.store.GetAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Principal{}, newOAuthError("invalid_token", "Invalid access token.", http.StatusUnauthorized)
		}
		span.RecordError(err)
		return domain.Principal{}, fmt.Errorf("load access token: %w", err)
	}
	if !s.now().Before(stored.ExpiresAt) {
		return domain.Principal{}, newOAuthError("invalid_token", "Invalid access token.", http.StatusUnauthorized)
	}

	grant, err := s.store.GetGrant(ctx, stored.GrantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Token outlived its grant; treat as revoked.
			return domain.Principal{}, newOAuthError("invalid_token", "Invalid access token.", http.StatusUnauthorized)
		}
		span.RecordError(err)
		return domain.Principal{}, fmt.Errorf("load grant: %w", err)
	}

	clientUniqID := ""
	if client, err := s.store.GetClientByID(ctx, grant.ClientID); err == nil {
		clientUniqID = client.UniqID
	}

	return domain.Principal{
		UserID:   grant.UserID,
		GrantID:  grant.ID,
		ClientID: clientUniqID,
		Scope:    stored.Scope,
	}, nil
}

// Introspect reports token state to an authenticated client. Any failure to
// resolve the token yields active=false rather than an error.
func (s *VerifierService) Introspect(ctx context.Context, token string) (Introspection, error) {
	ctx, span := s.startSpan(ctx, "VerifierService.Introspect")
	defer span.End()

	if !s.cfg.Enabled {
		return Introspection{}, errServiceDisabled()
	}

	principal, err := s.VerifyToken(ctx, token)
	if err != nil {
		var oerr *OAuthError
		if errors.As(err, &oerr) {
			return Introspection{Active: false}, nil
		}
		return Introspection{}, err
	}

	stored, err := s.store.GetAccessToken(ctx, token)
	if err != nil {
		return Introspection{Active: false}, nil
	}

	return Introspection{
		Active:    true,
		Scope:     principal.Scope,
		ClientID:  principal.ClientID,
		Subject:   fmt.Sprintf("%d", principal.UserID),
		TokenType: "bearer",
		ExpiresAt: stored.ExpiresAt.Unix(),
	}, nil
}

func (s *VerifierService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}
