package containertool

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/bnema/pinup/internal/domain"
)

// composeV2 admits docker compose plugin releases, pre-releases included.
var composeV2 = mustConstraint(">= 2.0.0-0")

// Flavor is the concrete command set of a detected tool.
type Flavor struct {
	Kind domain.ToolKind
	// Engine is the binary used for pull, prune and container inspection.
	Engine string
	// Compose is the compose command and its leading arguments.
	Compose []string
}

// Detect picks the container tool to use. With domain.ToolAuto it prefers
// podman with podman-compose, then the docker compose plugin, then the
// standalone docker-compose binary.
func Detect(ctx context.Context, runner Runner, kind domain.ToolKind) (Flavor, error) {
	switch kind {
	case domain.ToolPodman:
		return detectPodman(runner)
	case domain.ToolDocker:
		return detectDocker(ctx, runner)
	case domain.ToolDockerComposeLegacy:
		return detectLegacy(runner)
	case domain.ToolAuto, "":
	default:
		return Flavor{}, fmt.Errorf("%w: unknown tool %q", domain.ErrInvalidConfig, kind)
	}

	if _, err := runner.LookPath("podman"); err == nil {
		return detectPodman(runner)
	}
	if flavor, err := detectDocker(ctx, runner); err == nil {
		return flavor, nil
	}
	if flavor, err := detectLegacy(runner); err == nil {
		return flavor, nil
	}
	return Flavor{}, fmt.Errorf("%w: none of podman, docker compose or docker-compose is installed", domain.ErrToolNotFound)
}

func detectPodman(runner Runner) (Flavor, error) {
	if _, err := runner.LookPath("podman"); err != nil {
		return Flavor{}, fmt.Errorf("%w: podman: %v", domain.ErrToolNotFound, err)
	}
	if _, err := runner.LookPath("podman-compose"); err != nil {
		return Flavor{}, fmt.Errorf("%w: podman is installed but podman-compose is not", domain.ErrToolNotFound)
	}
	return Flavor{
		Kind:    domain.ToolPodman,
		Engine:  "podman",
		Compose: []string{"podman-compose"},
	}, nil
}

func detectDocker(ctx context.Context, runner Runner) (Flavor, error) {
	if _, err := runner.LookPath("docker"); err != nil {
		return Flavor{}, fmt.Errorf("%w: docker: %v", domain.ErrToolNotFound, err)
	}

	out, err := runner.Run(ctx, "", "docker", "compose", "version", "--short")
	if err != nil {
		return Flavor{}, fmt.Errorf("%w: docker compose plugin: %v", domain.ErrToolNotFound, err)
	}

	raw := strings.TrimSpace(string(out))
	version, err := semver.NewVersion(raw)
	if err != nil {
		return Flavor{}, fmt.Errorf("%w: unrecognised docker compose version %q", domain.ErrToolNotFound, raw)
	}
	if !composeV2.Check(version) {
		return Flavor{}, fmt.Errorf("%w: docker compose %s is older than 2.0.0", domain.ErrToolNotFound, version)
	}

	return Flavor{
		Kind:    domain.ToolDocker,
		Engine:  "docker",
		Compose: []string{"docker", "compose"},
	}, nil
}

func detectLegacy(runner Runner) (Flavor, error) {
	if _, err := runner.LookPath("docker-compose"); err != nil {
		return Flavor{}, fmt.Errorf("%w: docker-compose: %v", domain.ErrToolNotFound, err)
	}
	if _, err := runner.LookPath("docker"); err != nil {
		return Flavor{}, fmt.Errorf("%w: docker-compose needs the docker CLI for pulls", domain.ErrToolNotFound)
	}
	return Flavor{
		Kind:    domain.ToolDockerComposeLegacy,
		Engine:  "docker",
		Compose: []string{"docker-compose"},
	}, nil
}

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return constraint
}
