package containertool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bnema/pinup/internal/domain"
)

// podmanProjectLabel marks containers created by podman-compose.
const podmanProjectLabel = "io.podman.compose.project"

type composeLsEntry struct {
	Name        string `json:"Name"`
	Status      string `json:"Status"`
	ConfigFiles string `json:"ConfigFiles"`
}

type inspectEntry struct {
	ID     string `json:"Id"`
	Config struct {
		Labels map[string]string `json:"Labels"`
	} `json:"Config"`
}

// ListProjects implements out.ProjectLister. The docker compose plugin is
// asked directly; podman and the standalone docker-compose are enumerated
// from container labels.
func (c *CLI) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var (
		found []domain.Project
		err   error
	)
	switch c.flavor.Kind {
	case domain.ToolDocker:
		found, err = c.listComposeLs(ctx)
	case domain.ToolPodman:
		found, err = c.listFromLabels(ctx, podmanProjectLabel)
	default:
		found, err = c.listFromLabels(ctx, domain.LabelComposeProject)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list compose projects: %w", err)
	}
	return ExistingProjects(found, c.log), nil
}

func (c *CLI) listComposeLs(ctx context.Context) ([]domain.Project, error) {
	args := append([]string{}, c.flavor.Compose[1:]...)
	args = append(args, "ls", "--all", "--format", "json")

	output, err := c.runner.Run(ctx, "", c.flavor.Compose[0], args...)
	if err != nil {
		return nil, err
	}

	var entries []composeLsEntry
	if err := json.Unmarshal(output, &entries); err != nil {
		return nil, fmt.Errorf("unexpected compose ls output: %w", err)
	}

	projects := make([]domain.Project, 0, len(entries))
	for _, entry := range entries {
		project, ok := domain.ProjectFromCompose(entry.Name, "", entry.ConfigFiles)
		if !ok {
			c.log.Warn().Str("compose_project", entry.Name).Msg("compose project has no config file, skipping")
			continue
		}
		projects = append(projects, project)
	}
	return projects, nil
}

func (c *CLI) listFromLabels(ctx context.Context, label string) ([]domain.Project, error) {
	output, err := c.runner.Run(ctx, "", c.flavor.Engine, "ps", "-a", "-q", "--filter", "label="+label)
	if err != nil {
		return nil, err
	}

	ids := strings.Fields(string(output))
	if len(ids) == 0 {
		return nil, nil
	}

	output, err = c.runner.Run(ctx, "", c.flavor.Engine, append([]string{"inspect"}, ids...)...)
	if err != nil {
		return nil, err
	}

	var entries []inspectEntry
	if err := json.Unmarshal(output, &entries); err != nil {
		return nil, fmt.Errorf("unexpected inspect output: %w", err)
	}

	projects := make([]domain.Project, 0, len(entries))
	for _, entry := range entries {
		project, ok := domain.ProjectFromLabels(entry.Config.Labels)
		if !ok {
			c.log.Debug().Str("container", entry.ID).Msg("container carries no compose file labels")
			continue
		}
		projects = append(projects, project)
	}
	return projects, nil
}

// ExistingProjects drops duplicates and projects whose manifest no longer
// exists, keeping the first occurrence order. Overrides that no longer exist
// are left out of their project.
func ExistingProjects(projects []domain.Project, log zerolog.Logger) []domain.Project {
	seen := make(map[string]bool, len(projects))
	result := make([]domain.Project, 0, len(projects))

	for _, project := range projects {
		if seen[project.ComposeFile] {
			continue
		}
		seen[project.ComposeFile] = true

		if !regularFile(project.ComposeFile) {
			log.Warn().
				Str("project", project.Name).
				Str("manifest", project.ComposeFile).
				Msg("compose file not found, skipping project")
			continue
		}

		var overrides []string
		for _, file := range project.Overrides {
			if !regularFile(file) {
				log.Warn().
					Str("project", project.Name).
					Str("manifest", file).
					Msg("override file not found, leaving it out")
				continue
			}
			overrides = append(overrides, file)
		}
		project.Overrides = overrides
		result = append(result, project)
	}
	return result
}

func regularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
