package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/credentials"
	"github.com/awantoch/flowhook/errs"
)

// APIKey sends a static key in a header or query parameter. Keys cannot be
// refreshed; a rejected key needs the user to reconnect.
type APIKey struct {
	// Field is the credential field holding the key (default "apiKey").
	Field string
	// Header receives Prefix+key. Ignored when QueryParam is set.
	Header     string
	Prefix     string
	QueryParam string
	// CurrentUser validates the key; without it any non-empty key verifies.
	CurrentUser CurrentUserFunc
}

var _ Strategy = (*APIKey)(nil)

func (s *APIKey) Kind() Kind { return KindAPIKey }

func (s *APIKey) field() string {
	if s.Field == "" {
		return constants.FieldAPIKey
	}
	return s.Field
}

func (s *APIKey) Verify(ctx context.Context, call *Call) (credentials.Data, *Profile, error) {
	if call.Data.String(s.field()) == "" {
		return nil, nil, errs.NewAuthError(errs.InvalidCredentials, call.AppKey, fmt.Errorf("missing %s", s.field()))
	}
	profile, err := profileCheck(ctx, call, call.Data, s.CurrentUser)
	if err != nil {
		return nil, nil, err
	}
	return credentials.Data{
		constants.FieldResourceID: profile.ID,
		constants.FieldScreenName: profile.Name,
	}, profile, nil
}

func (s *APIKey) Refresh(ctx context.Context, call *Call) (credentials.Data, error) {
	return nil, errs.NewAuthError(errs.ReauthenticationRequired, call.AppKey, fmt.Errorf("api keys cannot be refreshed"))
}

func (s *APIKey) Authorize(req *http.Request, data credentials.Data) error {
	key := data.String(s.field())
	if key == "" {
		return nil
	}
	if s.QueryParam != "" {
		q := req.URL.Query()
		q.Set(s.QueryParam, key)
		req.URL.RawQuery = q.Encode()
		return nil
	}
	header := s.Header
	if header == "" {
		header = constants.HeaderAuthorization
	}
	req.Header.Set(header, s.Prefix+key)
	return nil
}

func (s *APIKey) IsStillVerified(ctx context.Context, call *Call) (bool, error) {
	if call.Data.String(s.field()) == "" {
		return false, nil
	}
	return stillVerified(ctx, call, s.CurrentUser)
}

// Custom delegates every operation to plugin-provided functions. A nil
// VerifyFunc accepts any input; a nil RefreshFunc means the material cannot
// be refreshed.
type Custom struct {
	VerifyFunc          func(ctx context.Context, call *Call) (credentials.Data, *Profile, error)
	RefreshFunc         func(ctx context.Context, call *Call) (credentials.Data, error)
	AuthorizeFunc       func(req *http.Request, data credentials.Data) error
	IsStillVerifiedFunc func(ctx context.Context, call *Call) (bool, error)
}

var _ Strategy = (*Custom)(nil)

func (s *Custom) Kind() Kind { return KindCustom }

func (s *Custom) Verify(ctx context.Context, call *Call) (credentials.Data, *Profile, error) {
	if s.VerifyFunc == nil {
		return credentials.Data{}, &Profile{}, nil
	}
	data, profile, err := s.VerifyFunc(ctx, call)
	if err != nil {
		return nil, nil, providerError(call.AppKey, errs.InvalidCredentials, err)
	}
	if profile == nil {
		profile = &Profile{}
	}
	return data, profile, nil
}

func (s *Custom) Refresh(ctx context.Context, call *Call) (credentials.Data, error) {
	if s.RefreshFunc == nil {
		return nil, errs.NewAuthError(errs.ReauthenticationRequired, call.AppKey, fmt.Errorf("refresh not supported"))
	}
	data, err := s.RefreshFunc(ctx, call)
	if err != nil {
		return nil, providerError(call.AppKey, errs.ReauthenticationRequired, err)
	}
	return data, nil
}

func (s *Custom) Authorize(req *http.Request, data credentials.Data) error {
	if s.AuthorizeFunc == nil {
		return bearer(req, data)
	}
	return s.AuthorizeFunc(req, data)
}

func (s *Custom) IsStillVerified(ctx context.Context, call *Call) (bool, error) {
	if s.IsStillVerifiedFunc == nil {
		return true, nil
	}
	return s.IsStillVerifiedFunc(ctx, call)
}
