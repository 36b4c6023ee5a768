package injector

import (
	"fmt"
	"net/http"

	"github.com/google/wire"

	"github.com/zeusync/entitysync/internal/audit"
	"github.com/zeusync/entitysync/internal/client"
	"github.com/zeusync/entitysync/internal/config"
	"github.com/zeusync/entitysync/internal/credentials"
	"github.com/zeusync/entitysync/internal/hub"
	"github.com/zeusync/entitysync/internal/observability/log"
	"github.com/zeusync/entitysync/internal/optimistic"
	"github.com/zeusync/entitysync/internal/resolver"
	"github.com/zeusync/entitysync/internal/retry"
	"github.com/zeusync/entitysync/internal/session"
	"github.com/zeusync/entitysync/internal/store"
	"github.com/zeusync/entitysync/internal/syncer"
	"github.com/zeusync/entitysync/internal/validate"
)

// Engine is the assembled object graph handed to the CLI.
type Engine struct {
	Config      config.Config
	Logger      *log.Logger
	Credentials credentials.Store
	Navigator   *session.RecordingNavigator
	Manager     *syncer.Manager
}

var ProviderSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	ProvideCredentials,
	ProvideNavigator,
	wire.Bind(new(session.Navigator), new(*session.RecordingNavigator)),
	ProvideAudit,
	hub.New,
	store.New,
	ProvideValidator,
	optimistic.New,
	ProvideRetry,
	ProvideClient,
	wire.Bind(new(client.Sender), new(*client.HTTPClient)),
	ProvideResolver,
	ProvideRecorder,
	ProvideGuard,
	ProvideManager,
	wire.Struct(new(Engine), "*"),
)

func ProvideLogger(cfg config.Config) *log.Logger {
	return log.New(log.ParseLevel(cfg.LogLevel))
}

// ProvideCredentials opens the credentials file when one is configured and
// falls back to an in-memory store seeded with the configured token.
func ProvideCredentials(cfg config.Config, logger log.Log) (credentials.Store, func(), error) {
	if cfg.CredentialsFile == "" {
		return credentials.NewMemory(cfg.Token, nil), func() {}, nil
	}
	f, err := credentials.OpenFile(cfg.CredentialsFile, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open credentials: %w", err)
	}
	if cfg.Token != "" && f.Token() == "" {
		if err = f.SetToken(cfg.Token); err != nil {
			_ = f.Close()
			return nil, nil, fmt.Errorf("seed credentials: %w", err)
		}
	}
	return f, func() { _ = f.Close() }, nil
}

func ProvideNavigator() *session.RecordingNavigator {
	return session.NewRecordingNavigator("/")
}

func ProvideAudit(cfg config.Config, creds credentials.Store) *audit.Log {
	return audit.New(cfg.AuditCapacity, audit.WithActor(credentials.ActorID(creds)))
}

// ProvideValidator installs the builtin rules plus any schemas found in SchemaDir.
func ProvideValidator(cfg config.Config, logger log.Log) (*validate.Registry, error) {
	r := validate.NewDefaultRegistry()
	if cfg.SchemaDir == "" {
		return r, nil
	}
	types, err := validate.LoadSchemaDir(r, cfg.SchemaDir)
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	logger.Debug("Schemas loaded", log.Strings("entity_types", types))
	return r, nil
}

func ProvideRetry(cfg config.Config) (*retry.Controller, error) {
	mode, err := retry.ParseMode(cfg.RetryMode)
	if err != nil {
		return nil, err
	}
	return retry.New(
		retry.WithMaxRetries(cfg.MaxRetries),
		retry.WithBaseDelay(cfg.BaseDelay),
		retry.WithMode(mode),
	), nil
}

func ProvideClient(cfg config.Config, creds credentials.Store, logger log.Log) *client.HTTPClient {
	return client.New(cfg.APIBase, creds,
		client.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		client.WithPermissionPaths(cfg.PermissionPaths...),
		client.WithLogger(logger),
	)
}

func ProvideResolver(cfg config.Config) (resolver.Resolver, error) {
	return resolver.ForPolicy(cfg.ConflictPolicy)
}

func ProvideRecorder() *resolver.Recorder {
	return resolver.NewRecorder(resolver.DefaultRecorderCapacity)
}

func ProvideGuard(cfg config.Config, creds credentials.Store, nav session.Navigator, logger log.Log) *session.Guard {
	return session.NewGuard(creds, nav, cfg.LoginRoute, logger)
}

// ProvideManager builds the Manager; the cleanup stops its background drains.
func ProvideManager(
	cfg config.Config,
	st *store.Store,
	auditLog *audit.Log,
	h *hub.Hub,
	validator *validate.Registry,
	applier *optimistic.Applier,
	rc *retry.Controller,
	sender client.Sender,
	res resolver.Resolver,
	conflicts *resolver.Recorder,
	guard *session.Guard,
	logger log.Log,
) (*syncer.Manager, func(), error) {
	m, err := syncer.New(syncer.Deps{
		Store:     st,
		Audit:     auditLog,
		Hub:       h,
		Validator: validator,
		Applier:   applier,
		Retry:     rc,
		Client:    sender,
		Resolver:  res,
		Conflicts: conflicts,
		Guard:     guard,
		Logger:    logger,
	}, syncer.WithEntityTypes(cfg.EntityTypes...), syncer.WithResyncConcurrency(cfg.ResyncConcurrency))
	if err != nil {
		return nil, nil, err
	}
	return m, func() { _ = m.Close() }, nil
}
