package service

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func queryParam(t *testing.T, rawURL, key string) string {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)
	return parsed.Query().Get(key)
}

func TestAuthorizeValidate(t *testing.T) {
	h := newTokenTestHarness(t)
	ctx := context.Background()

	base := AuthorizeRequest{
		ResponseType: "code",
		ClientID:     testClientID,
		RedirectURI:  testRedirectURI,
	}

	client, err := h.authorize.Validate(ctx, base)
	require.NoError(t, err)
	require.Equal(t, testClientID, client.UniqID)

	bad := base
	bad.ResponseType = "token"
	_, err = h.authorize.Validate(ctx, bad)
	requireOAuthError(t, err, "invalid_request")

	bad = base
	bad.ClientID = "unknown"
	_, err = h.authorize.Validate(ctx, bad)
	requireOAuthError(t, err, "unauthorized_client")

	bad = base
	bad.RedirectURI = "https://evil.example.com/steal"
	_, err = h.authorize.Validate(ctx, bad)
	requireOAuthError(t, err, "redirect_uri_mismatch")

	bad = base
	bad.Scope = "admin"
	_, err = h.authorize.Validate(ctx, bad)
	requireOAuthError(t, err, "invalid_request")
}

func TestAuthorizeApprove(t *testing.T) {
	h := newTokenTestHarness(t)

	target, err := h.authorize.Approve(context.Background(), 42, AuthorizeRequest{
		ResponseType: "code",
		ClientID:     testClientID,
		RedirectURI:  testRedirectURI,
		State:        "xyzzy",
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(target, testRedirectURI))
	require.Equal(t, "xyzzy", queryParam(t, target, "state"))

	code := queryParam(t, target, "code")
	require.NotEmpty(t, code)

	stored, err := h.store.GetAuthorizationCode(context.Background(), code)
	require.NoError(t, err)
	require.Equal(t, testRedirectURI, stored.RedirectURI)
	require.Equal(t, "webservice", stored.Scope)
	require.Equal(t, h.now.Add(testConfig().CodeTTL), stored.ExpiresAt)
}

func TestAuthorizeApproveReplacesPendingCode(t *testing.T) {
	h := newTokenTestHarness(t)
	first := h.mintCode(t, 42)
	second := h.mintCode(t, 42)
	require.NotEqual(t, first, second)

	_, err := h.store.GetAuthorizationCode(context.Background(), first)
	require.Error(t, err)
	_, err = h.store.GetAuthorizationCode(context.Background(), second)
	require.NoError(t, err)
}

func TestAuthorizeGrantIdempotence(t *testing.T) {
	h := newTokenTestHarness(t)
	ctx := context.Background()

	firstCode := h.mintCode(t, 42)
	secondCode := h.mintCode(t, 42)

	first, err := h.store.GetAuthorizationCode(ctx, secondCode)
	require.NoError(t, err)
	_ = firstCode

	grant, err := h.store.FindGrant(ctx, h.client.ID, 42)
	require.NoError(t, err)
	require.Equal(t, grant.ID, first.GrantID)

	// A different user gets a different grant.
	otherCode := h.mintCode(t, 43)
	other, err := h.store.GetAuthorizationCode(ctx, otherCode)
	require.NoError(t, err)
	require.NotEqual(t, grant.ID, other.GrantID)
}

func TestAuthorizeAlreadyGranted(t *testing.T) {
	h := newTokenTestHarness(t)
	ctx := context.Background()

	granted, err := h.authorize.AlreadyGranted(ctx, h.client.ID, 42)
	require.NoError(t, err)
	require.False(t, granted)

	h.mintCode(t, 42)

	granted, err = h.authorize.AlreadyGranted(ctx, h.client.ID, 42)
	require.NoError(t, err)
	require.True(t, granted)

	granted, err = h.authorize.AlreadyGranted(ctx, h.client.ID, 43)
	require.NoError(t, err)
	require.False(t, granted)
}

func TestAuthorizeDeny(t *testing.T) {
	h := newTokenTestHarness(t)

	target, err := h.authorize.Deny(context.Background(), AuthorizeRequest{
		ResponseType: "code",
		ClientID:     testClientID,
		RedirectURI:  testRedirectURI,
		State:        "xyzzy",
	})
	require.NoError(t, err)
	require.Equal(t, "access_denied", queryParam(t, target, "error"))
	require.Equal(t, "xyzzy", queryParam(t, target, "state"))
	require.Empty(t, queryParam(t, target, "code"))
}

func TestAuthorizeDenyUntrustedRedirect(t *testing.T) {
	h := newTokenTestHarness(t)

	_, err := h.authorize.Deny(context.Background(), AuthorizeRequest{
		ResponseType: "code",
		ClientID:     testClientID,
		RedirectURI:  "https://evil.example.com/steal",
	})
	requireOAuthError(t, err, "redirect_uri_mismatch")
}

func TestAuthorizeIDTokenPassthrough(t *testing.T) {
	h := newTokenTestHarness(t)

	target, err := h.authorize.Approve(context.Background(), 42, AuthorizeRequest{
		ResponseType: "code",
		ClientID:     testClientID,
		RedirectURI:  testRedirectURI,
		IDToken:      "opaque-assertion",
	})
	require.NoError(t, err)

	code := queryParam(t, target, "code")
	resp, err := h.exchangeCode(code)
	require.NoError(t, err)
	require.Equal(t, "opaque-assertion", resp.IDToken)
}
