package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/LearnWiseAI/moodle-local-learnwise/internal/config"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/domain"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/repository"
)

// AuthorizeRequest carries the parsed authorization endpoint parameters.
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        string
	State        string

	// IDToken is an optional identity assertion supplied by the host
	// platform. It is stored with the code and returned verbatim at
	// exchange time, never signed or inspected here.
	IDToken string
}

// AuthorizeService validates authorization requests and mints codes on
// consent.
type AuthorizeService struct {
	store  repository.Store
	cfg    config.Config
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewAuthorizeService wires dependencies.
func NewAuthorizeService(store repository.Store, cfg config.Config, logger *zap.Logger) *AuthorizeService {
	return &AuthorizeService{
		store:  store,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("github.com/LearnWiseAI/moodle-local-learnwise/internal/service"),
		now:    time.Now,
	}
}

// Validate checks the request before any consent UI is shown. Failures here
// must not redirect: the redirect_uri is not yet trusted.
func (s *AuthorizeService) Validate(ctx context.Context, req AuthorizeRequest) (domain.Client, error) {
	ctx, span := s.startSpan(ctx, "AuthorizeService.Validate")
	defer span.End()

	if !s.cfg.Enabled {
		return domain.Client{}, errServiceDisabled()
	}
	if req.ResponseType != "code" {
		return domain.Client{}, newOAuthError("invalid_request", "response_type must be code.", http.StatusBadRequest)
	}
	if strings.TrimSpace(req.ClientID) == "" {
		return domain.Client{}, newOAuthError("invalid_request", "client_id is required.", http.StatusBadRequest)
	}
	if strings.TrimSpace(req.RedirectURI) == "" {
		return domain.Client{}, newOAuthError("invalid_request", "redirect_uri is required.", http.StatusBadRequest)
	}

	client, err := s.store.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Client{}, newOAuthError("unauthorized_client", "Unknown client.", http.StatusBadRequest)
		}
		span.RecordError(err)
		return domain.Client{}, fmt.Errorf("load client: %w", err)
	}

	if !s.cfg.AllowsRedirectURI(req.RedirectURI) {
		return domain.Client{}, newOAuthError("redirect_uri_mismatch", "redirect_uri is not registered.", http.StatusBadRequest)
	}

	if req.Scope != "" && req.Scope != s.cfg.Scope {
		return domain.Client{}, newOAuthError("invalid_request", fmt.Sprintf("Scope %q is not available.", req.Scope), http.StatusBadRequest)
	}

	return client, nil
}

// AlreadyGranted reports whether the user has previously approved this
// client. Consent is remembered per (client, user); a returning user skips
// the prompt and receives a code immediately.
func (s *AuthorizeService) AlreadyGranted(ctx context.Context, clientID, userID int64) (bool, error) {
	_, err := s.store.FindGrant(ctx, clientID, userID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("find grant: %w", err)
}

// Approve records consent and mints a single-use code bound to the exact
// redirect_uri of the request. Re-approving replaces any pending code for
// the same grant.
func (s *AuthorizeService) Approve(ctx context.Context, userID int64, req AuthorizeRequest) (string, error) {
	ctx, span := s.startSpan(ctx, "AuthorizeService.Approve")
	defer span.End()

	client, err := s.Validate(ctx, req)
	if err != nil {
		return "", err
	}

	grant, err := s.store.GetOrCreateGrant(ctx, client.ID, userID)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("get or create grant: %w", err)
	}

	code := domain.AuthorizationCode{
		Code:        randomToken(32),
		GrantID:     grant.ID,
		RedirectURI: req.RedirectURI,
		Scope:       s.cfg.Scope,
		IDToken:     req.IDToken,
		ExpiresAt:   s.now().Add(s.cfg.CodeTTL),
	}
	if err := s.store.UpsertAuthorizationCode(ctx, code); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("persist code: %w", err)
	}

	s.audit("authorize.approved", "client_id", client.UniqID, "user_id", userID, "grant_id", grant.ID)
	return buildRedirect(req.RedirectURI, url.Values{
		"code":  {code.Code},
		"state": {req.State},
	}), nil
}

// Deny sends the user agent back with access_denied. The request is
// re-validated so a forged deny cannot redirect to an arbitrary URI.
func (s *AuthorizeService) Deny(ctx context.Context, req AuthorizeRequest) (string, error) {
	ctx, span := s.startSpan(ctx, "AuthorizeService.Deny")
	defer span.End()

	if _, err := s.Validate(ctx, req); err != nil {
		return "", err
	}

	s.audit("authorize.denied", "client_id", req.ClientID)
	return buildRedirect(req.RedirectURI, url.Values{
		"error": {"access_denied"},
		"state": {req.State},
	}), nil
}

// RedirectWithError builds an error callback for failures that occur after
// the redirect_uri has been validated.
func RedirectWithError(redirectURI, state string, oerr *OAuthError) string {
	values := url.Values{
		"error":             {oerr.Code},
		"error_description": {oerr.Description},
	}
	if state != "" {
		values.Set("state", state)
	}
	return buildRedirect(redirectURI, values)
}

func buildRedirect(base string, values url.Values) string {
	target, err := url.Parse(base)
	if err != nil {
		// The URI passed allow-list validation; a parse failure here means
		// the allow-list itself holds a malformed entry.
		return base
	}
	query := target.Query()
	for k, vs := range values {
		for _, v := range vs {
			if v != "" {
				query.Set(k, v)
			}
		}
	}
	target.RawQuery = query.Encode()
	return target.String()
}

func (s *AuthorizeService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthorizeService) audit(event string, attrs ...any) {
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

func (s *AuthorizeService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
