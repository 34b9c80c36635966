package composefile

import (
	"context"
	"fmt"
	"os"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/bnema/pinup/internal/domain"
)

// Validator checks manifests with the compose-spec loader, the same
// validation the compose tools run before acting on a file.
type Validator struct {
	log zerolog.Logger
}

// NewValidator creates a compose validator.
func NewValidator(log zerolog.Logger) *Validator {
	return &Validator{log: log}
}

// Validate loads the project's manifest and overrides with interpolation
// from the current environment and reports any schema or consistency error.
func (v *Validator) Validate(ctx context.Context, project domain.Project) error {
	files := project.Files()
	configFiles := make([]types.ConfigFile, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read manifest: %w", err)
		}

		var dict map[string]any
		if err := yaml.Unmarshal(data, &dict); err != nil || dict == nil {
			return fmt.Errorf("%w: %s is not a YAML mapping", domain.ErrManifestStructure, file)
		}
		configFiles = append(configFiles, types.ConfigFile{Filename: file, Content: data, Config: dict})
	}

	loaded, err := loader.LoadWithContext(ctx, types.ConfigDetails{
		WorkingDir:  project.Dir,
		ConfigFiles: configFiles,
		Environment: types.NewMapping(os.Environ()),
	}, func(opts *loader.Options) {
		opts.SetProjectName(loader.NormalizeProjectName(project.Name), true)
		opts.SkipNormalization = true
		opts.SkipResolveEnvironment = true
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrManifestStructure, err)
	}

	for _, svc := range loaded.Services {
		v.log.Debug().
			Str("project", project.Name).
			Str("service", svc.Name).
			Str("image", svc.Image).
			Msg("service validated")
	}
	return nil
}
