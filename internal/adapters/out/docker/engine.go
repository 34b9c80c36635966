// Package docker implements image and project operations over the Docker
// Engine API. Podman's Docker-compatible socket works too.
package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/rs/zerolog"

	"github.com/bnema/pinup/internal/adapters/out/containertool"
	"github.com/bnema/pinup/internal/boundaries/out"
	"github.com/bnema/pinup/internal/domain"
	"github.com/bnema/pinup/internal/logging"
)

// Engine implements out.ImageBackend and out.ProjectLister with the Docker API.
type Engine struct {
	client   *client.Client
	keychain authn.Keychain
}

// NewEngine connects to the engine configured by the DOCKER_* environment.
func NewEngine() (*Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return NewEngineWithClient(cli, authn.DefaultKeychain), nil
}

// NewEngineWithClient creates an engine around an existing client (for testing).
func NewEngineWithClient(cli *client.Client, keychain authn.Keychain) *Engine {
	return &Engine{
		client:   cli,
		keychain: keychain,
	}
}

// Close releases the client's connections.
func (e *Engine) Close() error {
	return e.client.Close()
}

// Ping checks that the engine answers and returns its version.
func (e *Engine) Ping(ctx context.Context) (string, error) {
	if _, err := e.client.Ping(ctx); err != nil {
		return "", fmt.Errorf("container engine is not available: %w", err)
	}
	version, err := e.client.ServerVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read engine version: %w", err)
	}
	return version.Version, nil
}

// Pull implements out.ImageBackend. Credentials come from the local docker
// config, as the CLI would use them.
func (e *Engine) Pull(ctx context.Context, ref string) error {
	ctx = logging.CtxWithFields(ctx, map[string]any{
		logging.FieldLayer:   "adapter",
		logging.FieldAdapter: "docker",
		logging.FieldAction:  "Pull",
		logging.FieldImage:   ref,
	})
	log := logging.FromCtx(ctx)

	log.Info().Msg("pulling image")

	reader, err := e.client.ImagePull(ctx, ref, image.PullOptions{RegistryAuth: e.registryAuth(ctx, ref)})
	if err != nil {
		return log.WrapErr(fmt.Errorf("%w: %w", domain.ErrPullFailed, err), "failed to pull image")
	}
	defer reader.Close()

	progress := logging.NewLineWriter(log.Logger, zerolog.DebugLevel, "pull", 0)
	err = jsonmessage.DisplayJSONMessagesStream(reader, progress, 0, false, nil)
	_ = progress.Close()
	if err != nil {
		return log.WrapErr(fmt.Errorf("%w: %w", domain.ErrPullFailed, err), "pull reported an error")
	}

	log.Info().Msg("image pulled successfully")
	return nil
}

// PruneDanglingImages implements out.ImageBackend.
func (e *Engine) PruneDanglingImages(ctx context.Context) (domain.PruneReport, error) {
	ctx = logging.CtxWithFields(ctx, map[string]any{
		logging.FieldLayer:   "adapter",
		logging.FieldAdapter: "docker",
		logging.FieldAction:  "PruneDanglingImages",
	})
	log := logging.FromCtx(ctx)

	report, err := e.client.ImagesPrune(ctx, filters.NewArgs(filters.Arg("dangling", "true")))
	if err != nil {
		return domain.PruneReport{}, log.WrapErr(err, "failed to prune images")
	}

	result := domain.PruneReport{SpaceReclaimed: report.SpaceReclaimed}
	for _, deleted := range report.ImagesDeleted {
		if deleted.Deleted != "" {
			result.DeletedIDs = append(result.DeletedIDs, deleted.Deleted)
		}
	}

	log.Info().
		Int("deleted", len(result.DeletedIDs)).
		Uint64("space_reclaimed", result.SpaceReclaimed).
		Msg("pruned dangling images")
	return result, nil
}

// ListProjects implements out.ProjectLister from the compose labels of all
// containers, running or not.
func (e *Engine) ListProjects(ctx context.Context) ([]domain.Project, error) {
	ctx = logging.CtxWithFields(ctx, map[string]any{
		logging.FieldLayer:   "adapter",
		logging.FieldAdapter: "docker",
		logging.FieldAction:  "ListProjects",
	})
	log := logging.FromCtx(ctx)

	containers, err := e.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", domain.LabelComposeProject)),
	})
	if err != nil {
		return nil, log.WrapErr(err, "failed to list containers")
	}

	var projects []domain.Project
	for _, c := range containers {
		project, ok := domain.ProjectFromLabels(c.Labels)
		if !ok {
			log.Debug().Str("container", c.ID).Msg("container carries no compose file labels")
			continue
		}
		projects = append(projects, project)
	}

	return containertool.ExistingProjects(projects, log.Logger), nil
}

// registryAuth encodes the keychain credentials for ref's registry, or
// returns "" for anonymous pulls.
func (e *Engine) registryAuth(ctx context.Context, ref string) string {
	log := logging.FromCtx(ctx)

	parsed, err := name.ParseReference(ref, name.WeakValidation)
	if err != nil {
		return ""
	}

	authenticator, err := e.keychain.Resolve(parsed.Context().Registry)
	if err != nil {
		log.Debug().Err(err).Msg("no credentials found, pulling anonymously")
		return ""
	}
	cfg, err := authenticator.Authorization()
	if err != nil || cfg == nil || *cfg == (authn.AuthConfig{}) {
		return ""
	}

	encoded, err := registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      cfg.Username,
		Password:      cfg.Password,
		Auth:          cfg.Auth,
		IdentityToken: cfg.IdentityToken,
		RegistryToken: cfg.RegistryToken,
		ServerAddress: parsed.Context().RegistryStr(),
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode registry credentials")
		return ""
	}
	return encoded
}

var (
	_ out.ImageBackend  = (*Engine)(nil)
	_ out.ProjectLister = (*Engine)(nil)
)
