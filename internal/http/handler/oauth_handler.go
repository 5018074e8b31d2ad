package handler

import (
	_ "embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/LearnWiseAI/moodle-local-learnwise/internal/config"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/http/middleware"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/identity"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/service"
)

//go:embed consent.html
var consentHTML string

var consentTmpl = template.Must(template.New("consent").Parse(consentHTML))

// OAuthHandler orchestrates the OAuth endpoints.
type OAuthHandler struct {
	Authorize *service.AuthorizeService
	Tokens    *service.TokenService
	Verifier  *service.VerifierService
	Discovery *service.DiscoveryService
	Identity  identity.Resolver
	Cfg       config.Config
}

// NewOAuthHandler creates the handler set.
func NewOAuthHandler(authorize *service.AuthorizeService, tokens *service.TokenService, verifier *service.VerifierService, discovery *service.DiscoveryService, resolver identity.Resolver, cfg config.Config) *OAuthHandler {
	return &OAuthHandler{
		Authorize: authorize,
		Tokens:    tokens,
		Verifier:  verifier,
		Discovery: discovery,
		Identity:  resolver,
		Cfg:       cfg,
	}
}

type authorizeForm struct {
	ResponseType string `form:"response_type"`
	ClientID     string `form:"client_id"`
	RedirectURI  string `form:"redirect_uri"`
	Scope        string `form:"scope"`
	State        string `form:"state"`
	IDToken      string `form:"id_token"`
	Decision     string `form:"decision"`
}

func (f authorizeForm) toRequest() service.AuthorizeRequest {
	responseType := strings.TrimSpace(f.ResponseType)
	if responseType == "" {
		responseType = "code"
	}
	return service.AuthorizeRequest{
		ResponseType: responseType,
		ClientID:     strings.TrimSpace(f.ClientID),
		RedirectURI:  strings.TrimSpace(f.RedirectURI),
		Scope:        strings.TrimSpace(f.Scope),
		State:        f.State,
		IDToken:      f.IDToken,
	}
}

// AuthorizeGet validates the request and shows the consent form. Validation
// failures respond directly: the redirect_uri is not trusted yet.
func (h *OAuthHandler) AuthorizeGet(c *gin.Context) {
	var form authorizeForm
	if err := c.ShouldBindQuery(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid authorize request."})
		return
	}
	req := form.toRequest()

	client, err := h.Authorize.Validate(c.Request.Context(), req)
	if err != nil {
		h.respondOAuthError(c, err)
		return
	}

	userID, err := h.Identity.Resolve(c.Request)
	if err != nil {
		h.redirectLogin(c)
		return
	}

	// A user who already approved this client is not asked again.
	granted, err := h.Authorize.AlreadyGranted(c.Request.Context(), client.ID, userID)
	if err != nil {
		h.respondOAuthError(c, err)
		return
	}
	if granted {
		target, err := h.Authorize.Approve(c.Request.Context(), userID, req)
		if err != nil {
			h.respondOAuthError(c, err)
			return
		}
		c.Redirect(http.StatusFound, target)
		return
	}

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	_ = consentTmpl.Execute(c.Writer, gin.H{
		"Action":       c.Request.URL.Path,
		"ResponseType": req.ResponseType,
		"ClientID":     req.ClientID,
		"RedirectURI":  req.RedirectURI,
		"Scope":        h.Cfg.Scope,
		"State":        req.State,
		"IDToken":      req.IDToken,
	})
}

// AuthorizePost records the consent decision and redirects back to the
// client.
func (h *OAuthHandler) AuthorizePost(c *gin.Context) {
	var form authorizeForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid authorize request."})
		return
	}
	req := form.toRequest()

	userID, err := h.Identity.Resolve(c.Request)
	if err != nil {
		h.redirectLogin(c)
		return
	}

	var target string
	if form.Decision == "allow" {
		target, err = h.Authorize.Approve(c.Request.Context(), userID, req)
	} else {
		target, err = h.Authorize.Deny(c.Request.Context(), req)
	}
	if err != nil {
		h.respondOAuthError(c, err)
		return
	}
	c.Redirect(http.StatusFound, target)
}

type tokenForm struct {
	GrantType    string `form:"grant_type"`
	Code         string `form:"code"`
	RedirectURI  string `form:"redirect_uri"`
	RefreshToken string `form:"refresh_token"`
	ClientID     string `form:"client_id"`
	ClientSecret string `form:"client_secret"`
}

// Token handles the token endpoint for both supported grants.
func (h *OAuthHandler) Token(c *gin.Context) {
	var form tokenForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid token request."})
		return
	}

	clientID, clientSecret := h.clientCredentials(c, form.ClientID, form.ClientSecret)
	resp, err := h.Tokens.Exchange(c.Request.Context(), service.ExchangeRequest{
		GrantType:    form.GrantType,
		Code:         form.Code,
		RedirectURI:  form.RedirectURI,
		RefreshToken: form.RefreshToken,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
	if err != nil {
		h.respondOAuthError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(http.StatusOK, resp)
}

// Introspect reports token state to an authenticated client per RFC 7662.
func (h *OAuthHandler) Introspect(c *gin.Context) {
	var form struct {
		Token        string `form:"token"`
		ClientID     string `form:"client_id"`
		ClientSecret string `form:"client_secret"`
	}
	if err := c.ShouldBind(&form); err != nil || strings.TrimSpace(form.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "token is required."})
		return
	}

	clientID, clientSecret := h.clientCredentials(c, form.ClientID, form.ClientSecret)
	if _, err := h.Tokens.AuthenticateClient(c.Request.Context(), clientID, clientSecret); err != nil {
		h.respondOAuthError(c, err)
		return
	}

	result, err := h.Verifier.Introspect(c.Request.Context(), form.Token)
	if err != nil {
		h.respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Revoke invalidates a token per RFC 7009.
func (h *OAuthHandler) Revoke(c *gin.Context) {
	var form struct {
		Token        string `form:"token"`
		ClientID     string `form:"client_id"`
		ClientSecret string `form:"client_secret"`
	}
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid revocation request."})
		return
	}

	clientID, clientSecret := h.clientCredentials(c, form.ClientID, form.ClientSecret)
	if err := h.Tokens.Revoke(c.Request.Context(), clientID, clientSecret, form.Token); err != nil {
		h.respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// Me returns the identity behind the presented bearer token.
func (h *OAuthHandler) Me(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_request", "error_description": "Bearer token required."})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":   principal.UserID,
		"client_id": principal.ClientID,
		"scope":     principal.Scope,
	})
}

// Metadata serves the RFC 8414 discovery document.
func (h *OAuthHandler) Metadata(c *gin.Context) {
	c.JSON(http.StatusOK, h.Discovery.Metadata(schemeOnly(c.Request), c.Request.Host))
}

// clientCredentials prefers HTTP Basic authentication over form fields.
func (h *OAuthHandler) clientCredentials(c *gin.Context, formID, formSecret string) (string, string) {
	if id, secret, ok := c.Request.BasicAuth(); ok {
		return id, secret
	}
	return formID, formSecret
}

// redirectLogin sends a guest to the platform login page with a return URL
// pointing back at the original authorize request.
func (h *OAuthHandler) redirectLogin(c *gin.Context) {
	returnTo := url.URL{
		Scheme:   schemeOnly(c.Request),
		Host:     c.Request.Host,
		Path:     c.Request.URL.Path,
		RawQuery: c.Request.URL.RawQuery,
	}

	login, err := url.Parse(h.Cfg.LoginURL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Login URL misconfigured."})
		return
	}
	q := login.Query()
	q.Set("returnto", returnTo.String())
	login.RawQuery = q.Encode()

	c.Redirect(http.StatusFound, login.String())
}

func (h *OAuthHandler) respondOAuthError(c *gin.Context, err error) {
	var oauthErr *service.OAuthError
	if errors.As(err, &oauthErr) {
		c.JSON(oauthErr.Status, gin.H{"error": oauthErr.Code, "error_description": oauthErr.Description})
		return
	}
	zap.L().Error("oauth service failure", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
}

func schemeOnly(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	return scheme
}
