package commands

import (
	"context"
	"fmt"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/config"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/policy"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/remote"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/remote/rest"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/resources"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/stores"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/telemetry"
	"github.com/rs/zerolog"
)

// session holds what every command needs: settings, telemetry and the
// resource type filter.
type session struct {
	settings  *config.Settings
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
	filter    resources.Filter
}

func newSession(offline bool) (*session, error) {
	settings, err := config.LoadSettings(configPath)
	if err != nil {
		return nil, err
	}
	if inputPath != "" {
		settings.Input = inputPath
	}
	if verbose {
		settings.LogLevel = "debug"
	}
	if err := settings.Validate(offline); err != nil {
		return nil, err
	}

	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = serviceVersion
	cfg.Logging.Level = settings.LogLevel
	if jsonOutput {
		cfg.Logging.Format = "json"
	}
	cfg.Metrics.ListenAddress = settings.MetricsAddress
	if traceExporter != "" && traceExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = traceExporter
		cfg.Tracing.Endpoint = traceEndpoint
		cfg.Tracing.Insecure = true
	}

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	return &session{
		settings:  settings,
		telemetry: tel,
		logger:    tel.Logger,
		filter:    resources.Filter{Included: settings.IncludedOnly, Excluded: settings.Excluded},
	}, nil
}

func (s *session) Close(ctx context.Context) error {
	return s.telemetry.Shutdown(ctx)
}

// desired loads the input and drops the types the filter excludes.
func (s *session) desired() (engine.DesiredState, error) {
	if s.settings.Input == "" {
		return nil, fmt.Errorf("no input given; use --input or TENANTSYNC_INPUT")
	}

	desired, err := config.NewLoader().Load(s.settings.Input, s.settings.KeywordMappings)
	if err != nil {
		return nil, err
	}
	return s.filter.Apply(desired), nil
}

// client connects to the live tenant.
func (s *session) client(ctx context.Context) (*rest.Client, error) {
	return rest.NewClient(ctx, rest.Config{
		Domain:       s.settings.Domain,
		BaseURL:      s.settings.BaseURL,
		ClientID:     s.settings.ClientID,
		ClientSecret: s.settings.ClientSecret,
		Audience:     s.settings.Audience,
		Token:        s.settings.Token,
		Timeout:      s.settings.Timeout,
	}, telemetry.Component(s.logger, "remote"))
}

// policy builds the deletion policy from the built-in rules and any extra
// policy paths.
func (s *session) policy(ctx context.Context) (*policy.Engine, error) {
	pe, err := policy.NewEngine(s.logger, s.settings.ConfigLookup())
	if err != nil {
		return nil, err
	}
	if len(s.settings.PolicyPaths) > 0 {
		if err := pe.LoadPolicies(ctx, s.settings.PolicyPaths); err != nil {
			return nil, err
		}
	}
	for _, name := range s.settings.DisabledPolicies {
		if err := pe.DisablePolicy(name); err != nil {
			return nil, err
		}
	}
	return pe, nil
}

// orchestrator registers the filtered handlers against an API.
func (s *session) orchestrator(api remote.API, deletion engine.DeletionPolicy, rec engine.Recorder) (*engine.Orchestrator, error) {
	orch := engine.NewOrchestrator(engine.OrchestratorConfig{
		Pool: engine.NewPool(engine.PoolConfig{
			Width:             s.settings.Concurrency,
			RequestsPerSecond: s.settings.RateLimit,
		}),
		Policy:   deletion,
		Recorder: rec,
		Logger:   telemetry.Component(s.logger, "orchestrator"),
	})

	err := resources.Register(orch, resources.Options{
		API:    api,
		Config: s.settings.ConfigLookup(),
		Logger: telemetry.Component(s.logger, "resources"),
	}, s.filter)
	if err != nil {
		return nil, err
	}
	return orch, nil
}

// store opens the run history, nil when history is disabled.
func (s *session) store(ctx context.Context) (*stores.SQLiteStore, error) {
	if s.settings.HistoryPath == "" {
		return nil, nil
	}
	return openStore(ctx, s.settings.HistoryPath)
}

func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
