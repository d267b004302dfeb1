package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/awantoch/flowhook/app"
	"github.com/awantoch/flowhook/apps"
	"github.com/awantoch/flowhook/auth"
	"github.com/awantoch/flowhook/blob"
	"github.com/awantoch/flowhook/config"
	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/credentials"
	"github.com/awantoch/flowhook/dispatch"
	"github.com/awantoch/flowhook/dsl"
	"github.com/awantoch/flowhook/engine"
	"github.com/awantoch/flowhook/event"
	"github.com/awantoch/flowhook/executor"
	"github.com/awantoch/flowhook/httpclient"
	"github.com/awantoch/flowhook/secrets"
	"github.com/awantoch/flowhook/storage"
	"github.com/awantoch/flowhook/telemetry"
	"github.com/awantoch/flowhook/utils"
	"github.com/google/uuid"
)

// runtime holds the wired components one command works with.
type runtime struct {
	cfg        *config.Config
	registry   *app.Registry
	store      storage.Storage
	creds      credentials.Store
	secrets    secrets.SecretsProvider
	auth       *auth.Manager
	bus        event.EventBus
	runner     *engine.Runner
	dispatcher *dispatch.Dispatcher

	shutdownTracing func(context.Context) error
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	if flowsDir != "" {
		cfg.FlowsDir = flowsDir
	}
	if cfg.Log.Level != "" && !debug {
		utils.SetLevel(cfg.Log.Level)
	}
	return cfg, nil
}

func newCredentialStore(cfg config.CredentialsConfig) (credentials.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", constants.CredentialsDriverMemory:
		return credentials.NewMemoryStore(), nil
	case constants.CredentialsDriverRedis:
		return credentials.NewRedisStore(credentials.RedisConfig{Addr: cfg.RedisAddr, Namespace: cfg.Namespace}), nil
	default:
		return nil, fmt.Errorf("unsupported credentials driver: %s", cfg.Driver)
	}
}

func newRuntime(ctx context.Context) (rt *runtime, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	rt = &runtime{cfg: cfg}
	defer func() {
		if err != nil {
			rt.Close(context.Background())
		}
	}()

	if rt.shutdownTracing, err = telemetry.Init(cfg); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	if rt.registry, err = apps.NewRegistry(); err != nil {
		return nil, err
	}
	if rt.store, err = storage.New(ctx, cfg.Storage); err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if rt.creds, err = newCredentialStore(cfg.Credentials); err != nil {
		return nil, err
	}
	if rt.secrets, err = secrets.NewSecretsProvider(ctx, cfg.Secrets); err != nil {
		return nil, fmt.Errorf("init secrets: %w", err)
	}
	if rt.bus, err = event.NewEventBusFromConfig(&cfg.Event); err != nil {
		return nil, fmt.Errorf("init event bus: %w", err)
	}
	archive, err := blob.NewBlobStore(ctx, &cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("init archive: %w", err)
	}

	vault := credentials.NewVault(rt.creds, cfg.Credentials.CacheTTL)
	factory := httpclient.NewFactory(cfg.Runner.HTTPTimeout)
	rt.auth = auth.NewManager(rt.registry, rt.store, vault, factory, rt.secrets)
	exec := executor.New(rt.registry, rt.auth, cfg.Runner.StepTimeout)
	rt.runner = engine.NewRunner(rt.store, exec, engine.Options{
		Retry:     engine.RetryPolicyFromConfig(cfg.Runner),
		Reconnect: rt.auth,
		Events:    rt.bus,
		Archive:   archive,
	})
	rt.dispatcher = dispatch.New(rt.store, rt.runner, rt.bus, dispatch.Options{
		PublicURL:       publicURL(cfg),
		DeliveryWorkers: cfg.Runner.DeliveryWorkers,
	})
	return rt, nil
}

func publicURL(cfg *config.Config) string {
	if cfg.HTTP.PublicURL != "" {
		return cfg.HTTP.PublicURL
	}
	host := cfg.HTTP.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.HTTP.Port)
}

// syncFlows stores every flow file found in the flows directory. A flow whose
// file marks it inactive is stored inactive.
func (rt *runtime) syncFlows(ctx context.Context) (int, error) {
	flows, err := dsl.LoadDir(rt.cfg.FlowsDir, rt.registry)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	for _, f := range flows {
		f.CreatedAt, f.UpdatedAt = now, now
		if existing, err := rt.store.GetFlow(ctx, f.ID); err == nil {
			f.CreatedAt = existing.CreatedAt
		}
		if err := rt.store.SaveFlow(ctx, f); err != nil {
			return 0, fmt.Errorf("save flow %s: %w", f.Name, err)
		}
	}
	return len(flows), nil
}

func (rt *runtime) Close(ctx context.Context) {
	if rt.bus != nil {
		if err := rt.bus.Close(); err != nil {
			utils.Warn("closing event bus: %v", err)
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			utils.Warn("closing storage: %v", err)
		}
	}
	if c, ok := rt.creds.(io.Closer); ok {
		_ = c.Close()
	}
	if rt.secrets != nil {
		_ = rt.secrets.Close()
	}
	if rt.shutdownTracing != nil {
		_ = rt.shutdownTracing(ctx)
	}
}

// printExecution writes the stored execution with its steps as JSON.
func (rt *runtime) printExecution(ctx context.Context, w io.Writer, id uuid.UUID) error {
	exec, err := rt.store.GetExecution(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(w, exec)
}
