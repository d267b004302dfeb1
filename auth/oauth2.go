package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/credentials"
	"github.com/awantoch/flowhook/errs"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuth2AuthCode exchanges an authorization code for tokens and refreshes
// them with the refresh token.
type OAuth2AuthCode struct {
	// Endpoint returns the provider endpoints; self-hosted apps derive them
	// from the connection input.
	Endpoint    func(data credentials.Data) oauth2.Endpoint
	Scopes      []string
	CurrentUser CurrentUserFunc
	// AuthCodeOptions are appended to the authorization URL.
	AuthCodeOptions []oauth2.AuthCodeOption
}

var _ Strategy = (*OAuth2AuthCode)(nil)

func (s *OAuth2AuthCode) Kind() Kind { return KindOAuth2AuthCode }

func (s *OAuth2AuthCode) config(ctx context.Context, call *Call) (*oauth2.Config, error) {
	secret, err := call.secret(ctx, constants.FieldClientSecret)
	if err != nil {
		return nil, errs.NewAuthError(errs.InvalidCredentials, call.AppKey, err)
	}
	return &oauth2.Config{
		ClientID:     call.Data.String(constants.FieldClientID),
		ClientSecret: secret,
		Endpoint:     s.Endpoint(call.Data),
		RedirectURL:  call.Data.String(constants.FieldRedirectURL),
		Scopes:       s.Scopes,
	}, nil
}

// AuthCodeURL returns the URL the user visits to grant access.
func (s *OAuth2AuthCode) AuthCodeURL(ctx context.Context, call *Call, state string) (string, error) {
	cfg, err := s.config(ctx, call)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state, s.AuthCodeOptions...), nil
}

func (s *OAuth2AuthCode) Verify(ctx context.Context, call *Call) (credentials.Data, *Profile, error) {
	code := call.Data.String(constants.FieldCode)
	if code == "" {
		return nil, nil, errs.NewAuthError(errs.InvalidCredentials, call.AppKey, fmt.Errorf("missing %s", constants.FieldCode))
	}
	cfg, err := s.config(ctx, call)
	if err != nil {
		return nil, nil, err
	}
	tok, err := cfg.Exchange(call.oauthContext(ctx), code)
	if err != nil {
		return nil, nil, providerError(call.AppKey, errs.InvalidCredentials, err)
	}
	updates := tokenData(tok)
	profile, err := profileCheck(ctx, call, call.Data.Merge(updates), s.CurrentUser)
	if err != nil {
		return nil, nil, err
	}
	updates[constants.FieldResourceID] = profile.ID
	updates[constants.FieldScreenName] = profile.Name
	return updates, profile, nil
}

func (s *OAuth2AuthCode) Refresh(ctx context.Context, call *Call) (credentials.Data, error) {
	refreshToken := call.Data.String(constants.FieldRefreshToken)
	if refreshToken == "" {
		return nil, errs.NewAuthError(errs.ReauthenticationRequired, call.AppKey, fmt.Errorf("no refresh token"))
	}
	cfg, err := s.config(ctx, call)
	if err != nil {
		return nil, err
	}
	stale := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Now().Add(-time.Minute)}
	tok, err := cfg.TokenSource(call.oauthContext(ctx), stale).Token()
	if err != nil {
		return nil, providerError(call.AppKey, errs.ReauthenticationRequired, err)
	}
	return tokenData(tok), nil
}

func (s *OAuth2AuthCode) Authorize(req *http.Request, data credentials.Data) error {
	return bearer(req, data)
}

func (s *OAuth2AuthCode) IsStillVerified(ctx context.Context, call *Call) (bool, error) {
	return stillVerified(ctx, call, s.CurrentUser)
}

// OAuth2ClientCredentials authenticates the app itself; refresh requests a new token.
type OAuth2ClientCredentials struct {
	TokenURL    func(data credentials.Data) string
	Scopes      []string
	CurrentUser CurrentUserFunc
}

var _ Strategy = (*OAuth2ClientCredentials)(nil)

func (s *OAuth2ClientCredentials) Kind() Kind { return KindOAuth2ClientCredentials }

func (s *OAuth2ClientCredentials) token(ctx context.Context, call *Call) (credentials.Data, error) {
	secret, err := call.secret(ctx, constants.FieldClientSecret)
	if err != nil {
		return nil, errs.NewAuthError(errs.InvalidCredentials, call.AppKey, err)
	}
	cfg := &clientcredentials.Config{
		ClientID:     call.Data.String(constants.FieldClientID),
		ClientSecret: secret,
		TokenURL:     s.TokenURL(call.Data),
		Scopes:       s.Scopes,
	}
	tok, err := cfg.Token(call.oauthContext(ctx))
	if err != nil {
		return nil, err
	}
	return tokenData(tok), nil
}

func (s *OAuth2ClientCredentials) Verify(ctx context.Context, call *Call) (credentials.Data, *Profile, error) {
	updates, err := s.token(ctx, call)
	if err != nil {
		return nil, nil, providerError(call.AppKey, errs.InvalidCredentials, err)
	}
	profile, err := profileCheck(ctx, call, call.Data.Merge(updates), s.CurrentUser)
	if err != nil {
		return nil, nil, err
	}
	updates[constants.FieldResourceID] = profile.ID
	updates[constants.FieldScreenName] = profile.Name
	return updates, profile, nil
}

func (s *OAuth2ClientCredentials) Refresh(ctx context.Context, call *Call) (credentials.Data, error) {
	updates, err := s.token(ctx, call)
	if err != nil {
		return nil, providerError(call.AppKey, errs.ReauthenticationRequired, err)
	}
	return updates, nil
}

func (s *OAuth2ClientCredentials) Authorize(req *http.Request, data credentials.Data) error {
	return bearer(req, data)
}

func (s *OAuth2ClientCredentials) IsStillVerified(ctx context.Context, call *Call) (bool, error) {
	return stillVerified(ctx, call, s.CurrentUser)
}

func tokenData(tok *oauth2.Token) credentials.Data {
	d := credentials.Data{
		constants.FieldAccessToken: tok.AccessToken,
		constants.FieldTokenType:   tok.TokenType,
	}
	if tok.RefreshToken != "" {
		d[constants.FieldRefreshToken] = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		d[constants.FieldExpiresAt] = tok.Expiry.UTC().Format(time.RFC3339)
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		d[constants.FieldScope] = scope
	}
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		d[constants.FieldIDToken] = idToken
	}
	return d
}

func bearer(req *http.Request, data credentials.Data) error {
	token := data.String(constants.FieldAccessToken)
	if token == "" {
		return nil
	}
	tokenType := data.String(constants.FieldTokenType)
	if tokenType == "" || strings.EqualFold(tokenType, "bearer") {
		tokenType = "Bearer"
	}
	req.Header.Set(constants.HeaderAuthorization, tokenType+" "+token)
	return nil
}
