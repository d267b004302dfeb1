// Package auth implements the per-app authentication strategies and the
// connection lifecycle built on top of them.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/awantoch/flowhook/credentials"
	"github.com/awantoch/flowhook/errs"
	"github.com/awantoch/flowhook/httpclient"
	"golang.org/x/oauth2"
)

type Kind string

const (
	KindOAuth2AuthCode          Kind = "oauth2_authorization_code"
	KindOAuth2ClientCredentials Kind = "oauth2_client_credentials"
	KindAPIKey                  Kind = "api_key"
	KindCustom                  Kind = "custom"
)

// Profile is the normalized account a connection authenticates as.
type Profile struct {
	ID    string
	Name  string
	Email string
	Raw   any
}

// CurrentUserFunc fetches the authenticated account with an app client.
type CurrentUserFunc func(ctx context.Context, client *httpclient.Client) (*Profile, error)

// Call carries what a strategy may use during one invocation.
type Call struct {
	AppKey string
	// Data is the verification input, or the stored material for refresh and checks.
	Data credentials.Data
	// HTTP is used for token endpoints.
	HTTP *http.Client
	// Client returns an app client authorized with data and no refresh.
	Client func(data credentials.Data) *httpclient.Client
	// Secret resolves "$secret:NAME" references.
	Secret func(ctx context.Context, value string) (string, error)
}

func (c *Call) secret(ctx context.Context, key string) (string, error) {
	v := c.Data.String(key)
	if c.Secret == nil {
		return v, nil
	}
	return c.Secret(ctx, v)
}

func (c *Call) oauthContext(ctx context.Context) context.Context {
	if c.HTTP == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.HTTP)
}

// Strategy is one way of authenticating against a provider.
type Strategy interface {
	Kind() Kind
	// Verify turns user input into stored material and identifies the account.
	Verify(ctx context.Context, call *Call) (credentials.Data, *Profile, error)
	// Refresh returns updated fields for call.Data.
	Refresh(ctx context.Context, call *Call) (credentials.Data, error)
	Authorize(req *http.Request, data credentials.Data) error
	IsStillVerified(ctx context.Context, call *Call) (bool, error)
}

// providerError maps a failure talking to the provider onto the auth taxonomy.
// clientFailure is used for rejections that are the caller's fault.
func providerError(appKey string, clientFailure errs.AuthReason, err error) error {
	if err == nil {
		return nil
	}
	var authErr *errs.AuthError
	if errors.As(err, &authErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	status := 0
	var retrieveErr *oauth2.RetrieveError
	var httpErr *errs.HTTPError
	switch {
	case errors.As(err, &retrieveErr) && retrieveErr.Response != nil:
		status = retrieveErr.Response.StatusCode
	case errors.As(err, &httpErr):
		status = httpErr.Status
	}
	switch {
	case status >= 500 || status == http.StatusTooManyRequests:
		return errs.NewAuthError(errs.ProviderFailure, appKey, err)
	case status >= 400:
		return errs.NewAuthError(clientFailure, appKey, err)
	case errs.IsNetwork(err):
		return errs.NewAuthError(errs.NetworkFailure, appKey, err)
	default:
		return errs.NewAuthError(errs.ProviderFailure, appKey, err)
	}
}

// profileCheck runs a current-user lookup as a verification probe.
func profileCheck(ctx context.Context, call *Call, data credentials.Data, fn CurrentUserFunc) (*Profile, error) {
	if fn == nil {
		return &Profile{}, nil
	}
	profile, err := fn(ctx, call.Client(data))
	if err != nil {
		return nil, providerError(call.AppKey, errs.InvalidCredentials, err)
	}
	if profile == nil {
		return &Profile{}, nil
	}
	return profile, nil
}

func stillVerified(ctx context.Context, call *Call, fn CurrentUserFunc) (bool, error) {
	if fn == nil {
		return true, nil
	}
	profile, err := fn(ctx, call.Client(call.Data))
	if err != nil {
		mapped := providerError(call.AppKey, errs.InvalidCredentials, err)
		var authErr *errs.AuthError
		if errors.As(mapped, &authErr) && authErr.Reason == errs.InvalidCredentials {
			return false, nil
		}
		return false, mapped
	}
	return profile != nil && (profile.ID != "" || profile.Email != ""), nil
}
