package containertool

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/docker/go-units"
	"github.com/rs/zerolog"

	"github.com/bnema/pinup/internal/boundaries/out"
	"github.com/bnema/pinup/internal/domain"
	"github.com/bnema/pinup/internal/logging"
)

var imageIDPattern = regexp.MustCompile(`^(sha256:)?[a-f0-9]{12,64}$`)

// CLI implements out.ContainerTool on top of the detected compose command.
// Pulls and prunes go through images when one is configured.
type CLI struct {
	runner Runner
	flavor Flavor
	images out.ImageBackend
	log    zerolog.Logger
}

// Option configures a CLI.
type Option func(*CLI)

// WithImageBackend routes pulls and prunes through backend instead of the CLI.
func WithImageBackend(backend out.ImageBackend) Option {
	return func(c *CLI) {
		c.images = backend
	}
}

// NewCLI creates a container tool for flavor.
func NewCLI(runner Runner, flavor Flavor, log zerolog.Logger, opts ...Option) *CLI {
	c := &CLI{
		runner: runner,
		flavor: flavor,
		log:    log.With().Str(logging.FieldAdapter, "containertool").Str("tool", string(flavor.Kind)).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Kind implements out.ContainerTool.
func (c *CLI) Kind() domain.ToolKind {
	return c.flavor.Kind
}

// Pull implements out.ContainerTool.
func (c *CLI) Pull(ctx context.Context, image string) error {
	if c.images != nil {
		return c.images.Pull(ctx, image)
	}
	return c.runner.Stream(ctx, "", c.flavor.Engine, "pull", image)
}

// ComposeDown implements out.ContainerTool.
func (c *CLI) ComposeDown(ctx context.Context, opts domain.ComposeOptions) error {
	args := []string{"down"}
	if opts.RemoveOrphans {
		args = append(args, "--remove-orphans")
	}
	return c.compose(ctx, opts, args...)
}

// ComposeUp implements out.ContainerTool.
func (c *CLI) ComposeUp(ctx context.Context, opts domain.ComposeOptions) error {
	return c.compose(ctx, opts, "up", "-d")
}

// PruneDanglingImages implements out.ContainerTool.
func (c *CLI) PruneDanglingImages(ctx context.Context) (domain.PruneReport, error) {
	if c.images != nil {
		return c.images.PruneDanglingImages(ctx)
	}

	output, err := c.runner.Run(ctx, "", c.flavor.Engine, "image", "prune", "-f")
	if err != nil {
		return domain.PruneReport{}, err
	}

	report := parsePruneOutput(output)
	c.log.Info().
		Int("deleted", len(report.DeletedIDs)).
		Str("reclaimed", units.HumanSize(float64(report.SpaceReclaimed))).
		Msg("pruned dangling images")
	return report, nil
}

func (c *CLI) compose(ctx context.Context, opts domain.ComposeOptions, args ...string) error {
	if opts.ProjectDir == "" {
		return fmt.Errorf("%w: compose call without a project directory", domain.ErrToolInvocation)
	}

	full := append([]string{}, c.flavor.Compose[1:]...)
	if opts.ComposeFile != "" {
		full = append(full, "-f", opts.ComposeFile)
	}
	for _, file := range opts.Overrides {
		full = append(full, "-f", file)
	}
	full = append(full, args...)

	return c.runner.Stream(ctx, opts.ProjectDir, c.flavor.Compose[0], full...)
}

// parsePruneOutput reads the deleted image IDs and reclaimed space from the
// output of docker or podman "image prune".
func parsePruneOutput(output []byte) domain.PruneReport {
	var report domain.PruneReport

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case strings.HasPrefix(line, "deleted: "):
			report.DeletedIDs = append(report.DeletedIDs, strings.TrimPrefix(line, "deleted: "))
		case strings.HasPrefix(line, "Total reclaimed space:"):
			size := strings.TrimSpace(strings.TrimPrefix(line, "Total reclaimed space:"))
			if n, err := units.FromHumanSize(size); err == nil && n > 0 {
				report.SpaceReclaimed = uint64(n)
			}
		case imageIDPattern.MatchString(line):
			report.DeletedIDs = append(report.DeletedIDs, line)
		}
	}
	return report
}

var _ out.ContainerTool = (*CLI)(nil)
