package domain

import (
	"path/filepath"
	"slices"
	"strings"
)

// Project is one compose deployment identified by its manifest file.
type Project struct {
	// Name is the compose project name, or the directory name when unknown.
	Name string
	// Dir is the project working directory. Every tool call runs here.
	Dir string
	// ComposeFile is the absolute path of the manifest.
	ComposeFile string
	// Overrides are further manifests compose layers over ComposeFile, as
	// absolute paths in the order they are applied.
	Overrides []string
}

// NewProject builds a project from a manifest path.
func NewProject(composeFile string) Project {
	abs, err := filepath.Abs(composeFile)
	if err != nil {
		abs = filepath.Clean(composeFile)
	}
	dir := filepath.Dir(abs)
	return Project{
		Name:        filepath.Base(dir),
		Dir:         dir,
		ComposeFile: abs,
	}
}

// FileName returns the manifest's base name, as passed to compose -f.
func (p Project) FileName() string {
	return filepath.Base(p.ComposeFile)
}

// Files returns ComposeFile followed by the overrides.
func (p Project) Files() []string {
	return append([]string{p.ComposeFile}, p.Overrides...)
}

// ComposeOptions parameterizes compose up/down for one project.
type ComposeOptions struct {
	ProjectDir  string
	ComposeFile string
	// Overrides are passed as further -f flags after ComposeFile.
	Overrides     []string
	RemoveOrphans bool
}

// ComposeOptionsFor returns options targeting project. Overrides inside the
// project directory are given relative to it.
func ComposeOptionsFor(p Project, removeOrphans bool) ComposeOptions {
	opts := ComposeOptions{
		ProjectDir:    p.Dir,
		ComposeFile:   p.FileName(),
		RemoveOrphans: removeOrphans,
	}
	for _, file := range p.Overrides {
		if rel, err := filepath.Rel(p.Dir, file); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			file = rel
		}
		opts.Overrides = append(opts.Overrides, file)
	}
	return opts
}

// ToolKind identifies the container tool family commands are issued to.
type ToolKind string

const (
	ToolAuto                ToolKind = "auto"
	ToolPodman              ToolKind = "podman"
	ToolDocker              ToolKind = "docker"
	ToolDockerComposeLegacy ToolKind = "docker-compose"
)

// Valid reports whether k is a known tool kind.
func (k ToolKind) Valid() bool {
	switch k {
	case ToolAuto, ToolPodman, ToolDocker, ToolDockerComposeLegacy:
		return true
	}
	return false
}

// Labels compose tools attach to the containers they create.
const (
	LabelComposeProject     = "com.docker.compose.project"
	LabelComposeWorkingDir  = "com.docker.compose.project.working_dir"
	LabelComposeConfigFiles = "com.docker.compose.project.config_files"
)

// ProjectFromCompose builds a project from what compose reports about it:
// the project name, its working directory and its comma separated config
// files. The first file is the manifest and the rest become overrides;
// relative names are joined to workingDir. It returns false when no usable
// manifest path is known.
func ProjectFromCompose(name, workingDir, configFiles string) (Project, bool) {
	var files []string
	for _, file := range strings.Split(configFiles, ",") {
		file = strings.TrimSpace(file)
		if file == "" {
			continue
		}
		if !filepath.IsAbs(file) {
			if workingDir == "" {
				return Project{}, false
			}
			file = filepath.Join(workingDir, file)
		}
		files = append(files, filepath.Clean(file))
	}
	if len(files) == 0 {
		return Project{}, false
	}

	project := NewProject(files[0])
	for _, file := range files[1:] {
		if file != project.ComposeFile && !slices.Contains(project.Overrides, file) {
			project.Overrides = append(project.Overrides, file)
		}
	}
	if name != "" {
		project.Name = name
	}
	return project, true
}

// ProjectFromLabels builds a project from a container's compose labels.
func ProjectFromLabels(labels map[string]string) (Project, bool) {
	return ProjectFromCompose(
		labels[LabelComposeProject],
		labels[LabelComposeWorkingDir],
		labels[LabelComposeConfigFiles],
	)
}
