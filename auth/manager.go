package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/credentials"
	"github.com/awantoch/flowhook/httpclient"
	"github.com/awantoch/flowhook/model"
	"github.com/awantoch/flowhook/secrets"
	"github.com/awantoch/flowhook/telemetry"
	"github.com/awantoch/flowhook/utils"
	"github.com/google/uuid"
)

// ErrConnectionInUse is returned when deleting a connection an active flow references.
var ErrConnectionInUse = errors.New("connection is used by an active flow")

// AppAuth is what the manager needs to know about an app.
type AppAuth struct {
	AppKey   string
	Strategy Strategy
	// BaseURL returns the API root; self-hosted apps read it from the material.
	BaseURL func(data credentials.Data) string
}

// Apps resolves app keys.
type Apps interface {
	AuthFor(appKey string) (*AppAuth, error)
}

// Connections persists connection records.
type Connections interface {
	SaveConnection(ctx context.Context, conn *model.Connection) error
	GetConnection(ctx context.Context, id uuid.UUID) (*model.Connection, error)
	DeleteConnection(ctx context.Context, id uuid.UUID) error
	ConnectionInUse(ctx context.Context, id uuid.UUID) (bool, error)
}

type Manager struct {
	apps    Apps
	conns   Connections
	vault   *credentials.Vault
	factory *httpclient.Factory
	secrets secrets.SecretsProvider
}

func NewManager(apps Apps, conns Connections, vault *credentials.Vault, factory *httpclient.Factory, sp secrets.SecretsProvider) *Manager {
	return &Manager{apps: apps, conns: conns, vault: vault, factory: factory, secrets: sp}
}

func (m *Manager) Vault() *credentials.Vault { return m.vault }

func (m *Manager) call(a *AppAuth, data credentials.Data) *Call {
	return &Call{
		AppKey: a.AppKey,
		Data:   data,
		HTTP:   m.factory.HTTPClient(),
		Client: func(d credentials.Data) *httpclient.Client {
			return m.factory.New(httpclient.Binding{
				AppKey:      a.AppKey,
				BaseURL:     baseURL(a, d),
				Credentials: func(context.Context) (credentials.Data, error) { return d, nil },
				Authorizer:  a.Strategy,
			})
		},
		Secret: func(ctx context.Context, v string) (string, error) {
			return secrets.Resolve(ctx, m.secrets, v)
		},
	}
}

func baseURL(a *AppAuth, data credentials.Data) string {
	if a.BaseURL == nil {
		return ""
	}
	return a.BaseURL(data)
}

// AuthCodeURL returns the consent URL for apps using the authorization-code flow.
func (m *Manager) AuthCodeURL(ctx context.Context, appKey string, input credentials.Data, state string) (string, error) {
	a, err := m.apps.AuthFor(appKey)
	if err != nil {
		return "", err
	}
	s, ok := a.Strategy.(*OAuth2AuthCode)
	if !ok {
		return "", fmt.Errorf("app %s does not use the authorization code flow", appKey)
	}
	return s.AuthCodeURL(ctx, m.call(a, input), state)
}

// Verify runs the app's verification against input and, on success, creates
// a verified connection holding the resulting material.
func (m *Manager) Verify(ctx context.Context, appKey, userID string, input credentials.Data) (*model.Connection, error) {
	a, err := m.apps.AuthFor(appKey)
	if err != nil {
		return nil, err
	}
	updates, profile, err := a.Strategy.Verify(ctx, m.call(a, input))
	if err != nil {
		utils.WarnCtx(ctx, "credential verification failed", "app", appKey, "error", err)
		return nil, err
	}
	now := time.Now().UTC()
	conn := &model.Connection{
		ID:         uuid.New(),
		UserID:     userID,
		AppKey:     appKey,
		Verified:   true,
		VerifiedAt: &now,
		ScreenName: profile.Name,
		ResourceID: profile.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.vault.Replace(ctx, conn.ID, material(input, updates)); err != nil {
		return nil, err
	}
	if err := m.conns.SaveConnection(ctx, conn); err != nil {
		_ = m.vault.Delete(ctx, conn.ID)
		return nil, err
	}
	utils.InfoCtx(ctx, "connection verified", "app", appKey, "connection", conn.ID, "screen_name", conn.ScreenName)
	return conn, nil
}

// Reverify re-runs verification for an existing connection with new input
// merged over the stored material.
func (m *Manager) Reverify(ctx context.Context, connectionID uuid.UUID, input credentials.Data) (*model.Connection, error) {
	conn, err := m.conns.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	a, err := m.apps.AuthFor(conn.AppKey)
	if err != nil {
		return nil, err
	}
	current, err := m.vault.Get(ctx, connectionID)
	if err != nil && !errors.Is(err, credentials.ErrNotFound) {
		return nil, err
	}
	merged := current.Merge(input)
	updates, profile, err := a.Strategy.Verify(ctx, m.call(a, merged))
	if err != nil {
		return nil, err
	}
	if err := m.vault.Replace(ctx, connectionID, material(merged, updates)); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	conn.Verified = true
	conn.VerifiedAt = &now
	conn.ScreenName = profile.Name
	conn.ResourceID = profile.ID
	conn.UpdatedAt = now
	return conn, m.conns.SaveConnection(ctx, conn)
}

// material drops the single-use authorization code from the stored bag.
func material(input, updates credentials.Data) credentials.Data {
	out := input.Merge(updates)
	delete(out, constants.FieldCode)
	return out
}

// IsStillVerified asks the provider whether the stored material still works
// and records the answer on the connection.
func (m *Manager) IsStillVerified(ctx context.Context, connectionID uuid.UUID) (bool, error) {
	conn, err := m.conns.GetConnection(ctx, connectionID)
	if err != nil {
		return false, err
	}
	a, err := m.apps.AuthFor(conn.AppKey)
	if err != nil {
		return false, err
	}
	data, err := m.vault.Get(ctx, connectionID)
	if errors.Is(err, credentials.ErrNotFound) {
		return false, m.setVerified(ctx, conn, false)
	}
	if err != nil {
		return false, err
	}
	ok, err := a.Strategy.IsStillVerified(ctx, m.call(a, data))
	if err != nil {
		return false, err
	}
	return ok, m.setVerified(ctx, conn, ok)
}

func (m *Manager) setVerified(ctx context.Context, conn *model.Connection, verified bool) error {
	now := time.Now().UTC()
	conn.Verified = verified
	if verified {
		conn.VerifiedAt = &now
	}
	conn.UpdatedAt = now
	return m.conns.SaveConnection(ctx, conn)
}

// Refresh renews the material of a connection. Concurrent calls for the same
// connection collapse into one provider round trip, and a caller whose stale
// material was already replaced gets the current material back.
func (m *Manager) Refresh(ctx context.Context, connectionID uuid.UUID, appKey, staleFingerprint string) (credentials.Data, error) {
	a, err := m.apps.AuthFor(appKey)
	if err != nil {
		return nil, err
	}
	return m.vault.Refresh(ctx, connectionID, staleFingerprint, func(ctx context.Context, current credentials.Data) (credentials.Data, error) {
		updates, err := a.Strategy.Refresh(ctx, m.call(a, current))
		if err != nil {
			telemetry.CountTokenRefresh(appKey, "failure")
			utils.WarnCtx(ctx, "credential refresh failed", "app", appKey, "connection", connectionID, "error", err)
			return nil, err
		}
		telemetry.CountTokenRefresh(appKey, "success")
		utils.DebugCtx(ctx, "credential refreshed", "app", appKey, "connection", connectionID)
		return updates, nil
	})
}

type connectionRefresher struct {
	m      *Manager
	id     uuid.UUID
	appKey string
}

func (r connectionRefresher) Refresh(ctx context.Context, stale string) (credentials.Data, error) {
	return r.m.Refresh(ctx, r.id, r.appKey, stale)
}

// Client returns an HTTP client for appKey, bound to the connection when
// connectionID is set.
func (m *Manager) Client(ctx context.Context, appKey string, connectionID *uuid.UUID) (*httpclient.Client, error) {
	a, err := m.apps.AuthFor(appKey)
	if err != nil {
		return nil, err
	}
	if connectionID == nil {
		return m.factory.New(httpclient.Binding{AppKey: appKey, BaseURL: baseURL(a, nil)}), nil
	}
	id := *connectionID
	data, err := m.vault.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("connection %s: %w", id, err)
	}
	return m.factory.New(httpclient.Binding{
		AppKey:  appKey,
		BaseURL: baseURL(a, data),
		Credentials: func(ctx context.Context) (credentials.Data, error) {
			return m.vault.Get(ctx, id)
		},
		Authorizer: a.Strategy,
		Refresher:  connectionRefresher{m: m, id: id, appKey: appKey},
	}), nil
}

func (m *Manager) Credentials(ctx context.Context, connectionID uuid.UUID) (credentials.Data, error) {
	return m.vault.Get(ctx, connectionID)
}

// SetCredentials merges updates into the stored material of a connection.
func (m *Manager) SetCredentials(ctx context.Context, connectionID uuid.UUID, updates credentials.Data) error {
	return m.vault.Set(ctx, connectionID, updates)
}

// DeleteConnection removes a connection and its material unless an active
// flow still references it.
func (m *Manager) DeleteConnection(ctx context.Context, connectionID uuid.UUID) error {
	inUse, err := m.conns.ConnectionInUse(ctx, connectionID)
	if err != nil {
		return err
	}
	if inUse {
		return ErrConnectionInUse
	}
	if err := m.vault.Delete(ctx, connectionID); err != nil {
		return err
	}
	return m.conns.DeleteConnection(ctx, connectionID)
}

// MarkReconnectRequired flags a connection whose material was rejected after refresh.
func (m *Manager) MarkReconnectRequired(ctx context.Context, connectionID uuid.UUID) error {
	conn, err := m.conns.GetConnection(ctx, connectionID)
	if err != nil {
		return err
	}
	utils.WarnCtx(ctx, "connection requires reauthentication", "app", conn.AppKey, "connection", connectionID)
	return m.setVerified(ctx, conn, false)
}
