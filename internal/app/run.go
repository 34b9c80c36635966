// Package app provides the application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	// Adapters - Output
	"github.com/bnema/pinup/internal/adapters/out/composefile"
	"github.com/bnema/pinup/internal/adapters/out/containertool"
	"github.com/bnema/pinup/internal/adapters/out/docker"
	"github.com/bnema/pinup/internal/adapters/out/filesystem"
	"github.com/bnema/pinup/internal/adapters/out/inspect"
	"github.com/bnema/pinup/internal/adapters/out/telemetry"

	// Boundaries
	"github.com/bnema/pinup/internal/boundaries/out"

	"github.com/bnema/pinup/internal/config"
	"github.com/bnema/pinup/internal/domain"
	"github.com/bnema/pinup/internal/logging"

	// Use cases
	"github.com/bnema/pinup/internal/usecase/deploy"
	"github.com/bnema/pinup/internal/usecase/manifest"
	"github.com/bnema/pinup/internal/usecase/resolve"
	"github.com/bnema/pinup/internal/usecase/update"
)

// Options carries command line overrides applied on top of the config file.
type Options struct {
	ConfigPath string
	EnvFile    string
	LogLevel   string
}

// App holds the wired components of one pinup invocation.
type App struct {
	Config   config.Config
	Log      zerolog.Logger
	Metrics  *telemetry.Metrics
	Resolver *resolve.Service
	Runner   *containertool.ExecRunner

	closers []io.Closer
}

// New loads configuration, sets up logging and builds the digest resolver.
// Container tool detection is deferred to UpdateService so that commands
// which only resolve digests work on hosts without a compose tool.
func New(opts Options, logOutput io.Writer) (*App, error) {
	cfg, err := initConfig(opts)
	if err != nil {
		return nil, err
	}

	log, closer, err := logging.Setup(cfg.Logging, logOutput)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	a := &App{
		Config:  cfg,
		Log:     log,
		Metrics: telemetry.NewMetrics(cfg.Metrics.Textfile),
		Runner:  containertool.NewExecRunner(log),
		closers: []io.Closer{closer},
	}

	inspector, err := createInspector(cfg, a.Runner)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Resolver = resolve.NewService(inspector, cfg.MirrorTable(), a.Metrics)

	log.Debug().
		Str("tool", cfg.Tool).
		Str("engine", cfg.Engine).
		Str("resolver", cfg.Resolver.Backend).
		Int("mirrored_registries", len(cfg.Mirrors)).
		Msg("configuration loaded")

	return a, nil
}

// Context returns ctx carrying the application logger.
func (a *App) Context(ctx context.Context) context.Context {
	return logging.WithLogger(ctx, a.Log)
}

// UpdateService detects the container tool and wires the update use case.
func (a *App) UpdateService(ctx context.Context) (*update.Service, error) {
	tool, lister, err := a.createContainerTool(ctx)
	if err != nil {
		return nil, err
	}
	return a.newUpdateService(tool, lister), nil
}

// CheckService wires an update use case without a container tool. It can
// only Check explicitly named compose files.
func (a *App) CheckService() *update.Service {
	manifests := manifest.NewService(composefile.NewStore(a.Log), a.Resolver)
	return update.NewService(nil, manifests, nil, composefile.NewValidator(a.Log), nil)
}

func (a *App) newUpdateService(tool out.ContainerTool, lister out.ProjectLister) *update.Service {
	manifests := manifest.NewService(composefile.NewStore(a.Log), a.Resolver)
	backup := filesystem.NewManifestBackup(a.Config.Deploy.BackupSuffix, a.Log)
	deployer := deploy.NewService(tool, backup, manifests, deploy.Config{
		RemoveOrphans: a.Config.Deploy.RemoveOrphans,
		Prune:         a.Config.Deploy.Prune,
	})

	return update.NewService(lister, manifests, deployer, composefile.NewValidator(a.Log), a.Metrics)
}

// Close releases the log file and any engine connection.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// initConfig loads the configuration with the command line overrides.
func initConfig(opts Options) (config.Config, error) {
	v := viper.New()
	if opts.LogLevel != "" {
		v.Set("logging.level", opts.LogLevel)
	}

	cfg, err := config.Load(v, config.LoadOptions{
		ConfigPath: opts.ConfigPath,
		EnvFile:    opts.EnvFile,
	})
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// createInspector builds the digest inspection backend.
func createInspector(cfg config.Config, runner containertool.Runner) (out.DigestInspector, error) {
	opts := inspect.Options{
		Timeout:  cfg.Resolver.Timeout,
		Insecure: cfg.Resolver.Insecure,
	}

	switch cfg.Resolver.Backend {
	case config.BackendSkopeo:
		return inspect.NewSkopeo(runner, cfg.Resolver.Skopeo, opts), nil
	case config.BackendRegistry:
		return inspect.NewRegistry(authn.DefaultKeychain, opts), nil
	}
	return nil, fmt.Errorf("%w: unknown resolver backend %q", domain.ErrInvalidConfig, cfg.Resolver.Backend)
}

// createContainerTool detects the compose tool and, with the api engine,
// routes image operations and project discovery through the Docker API.
func (a *App) createContainerTool(ctx context.Context) (out.ContainerTool, out.ProjectLister, error) {
	flavor, err := containertool.Detect(ctx, a.Runner, domain.ToolKind(a.Config.Tool))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to detect container tool: %w", err)
	}
	a.Log.Info().
		Str("tool", string(flavor.Kind)).
		Strs("compose", flavor.Compose).
		Msg("container tool detected")

	if a.Config.Engine != config.EngineAPI {
		cli := containertool.NewCLI(a.Runner, flavor, a.Log)
		return cli, cli, nil
	}

	engine, err := docker.NewEngine()
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, engine)

	version, err := engine.Ping(ctx)
	if err != nil {
		return nil, nil, err
	}
	a.Log.Info().Str("engine_version", version).Msg("container engine API initialized")

	cli := containertool.NewCLI(a.Runner, flavor, a.Log, containertool.WithImageBackend(engine))
	return cli, engine, nil
}
