package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/pinup/internal/adapters/out/containertool"
	"github.com/bnema/pinup/internal/adapters/out/inspect"
	"github.com/bnema/pinup/internal/config"
	"github.com/bnema/pinup/internal/domain"
	"github.com/bnema/pinup/internal/usecase/resolve"
)

var pipelineDigest = "sha256:" + strings.Repeat("d", 64)

const pipelineManifest = `services:
  web:
    image: "nginx:1.27" # keep this comment
    ports:
      - "8080:80"
  db:
    image: localhost:5000/db:dev
`

type fakeInspector struct {
	mu   sync.Mutex
	refs []string
}

func (f *fakeInspector) Inspect(_ context.Context, ref string) ([]byte, error) {
	f.mu.Lock()
	f.refs = append(f.refs, ref)
	f.mu.Unlock()

	if strings.HasPrefix(ref, "mirror.local/") {
		return nil, errors.New("mirror unavailable")
	}
	return []byte(`{"Digest":"` + pipelineDigest + `"}`), nil
}

type fakeTool struct {
	upErr error
	calls []string
}

func (f *fakeTool) Kind() domain.ToolKind { return domain.ToolDocker }

func (f *fakeTool) Pull(_ context.Context, image string) error {
	f.calls = append(f.calls, "pull "+image)
	return nil
}

func (f *fakeTool) ComposeDown(_ context.Context, opts domain.ComposeOptions) error {
	f.calls = append(f.calls, "down "+opts.ComposeFile)
	return nil
}

func (f *fakeTool) ComposeUp(_ context.Context, opts domain.ComposeOptions) error {
	f.calls = append(f.calls, "up "+opts.ComposeFile)
	return f.upErr
}

func (f *fakeTool) PruneDanglingImages(context.Context) (domain.PruneReport, error) {
	f.calls = append(f.calls, "prune")
	return domain.PruneReport{}, nil
}

func writeConfig(t *testing.T, dir, textfile string) string {
	t.Helper()
	path := filepath.Join(dir, "pinup.yaml")
	content := `resolver:
  backend: registry
mirrors:
  docker.io:
    - mirror.local
metrics:
  textfile: ` + textfile + `
logging:
  level: error
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newPipelineApp(t *testing.T) (*App, *fakeInspector, string) {
	t.Helper()
	dir := t.TempDir()
	textfile := filepath.Join(dir, "pinup.prom")

	a, err := New(Options{ConfigPath: writeConfig(t, dir, textfile)}, io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	inspector := &fakeInspector{}
	a.Resolver = resolve.NewService(inspector, a.Config.MirrorTable(), a.Metrics)

	projectDir := filepath.Join(dir, "web")
	require.NoError(t, os.MkdirAll(projectDir, 0o755))
	manifest := filepath.Join(projectDir, "compose.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(pipelineManifest), 0o644))

	return a, inspector, manifest
}

func TestNew_LoadsConfig(t *testing.T) {
	a, _, _ := newPipelineApp(t)

	assert.Equal(t, config.BackendRegistry, a.Config.Resolver.Backend)
	assert.Equal(t, []string{"mirror.local"}, a.Config.Mirrors["docker.io"])
	assert.Equal(t, ".bak", a.Config.Deploy.BackupSuffix)
	assert.NotNil(t, a.Resolver)
	assert.NotNil(t, a.Metrics)
}

func TestNew_LogLevelOverride(t *testing.T) {
	dir := t.TempDir()
	a, err := New(Options{ConfigPath: writeConfig(t, dir, ""), LogLevel: "debug"}, io.Discard)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "debug", a.Config.Logging.Level)
}

func TestNew_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pinup.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tool: rkt\n"), 0o644))

	_, err := New(Options{ConfigPath: path}, io.Discard)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCreateInspector(t *testing.T) {
	runner := containertool.NewExecRunner(zerolog.Nop())

	skopeo, err := createInspector(config.Config{Resolver: config.ResolverConfig{Backend: config.BackendSkopeo}}, runner)
	require.NoError(t, err)
	assert.IsType(t, &inspect.Skopeo{}, skopeo)

	registry, err := createInspector(config.Config{Resolver: config.ResolverConfig{Backend: config.BackendRegistry}}, runner)
	require.NoError(t, err)
	assert.IsType(t, &inspect.Registry{}, registry)

	_, err = createInspector(config.Config{Resolver: config.ResolverConfig{Backend: "http"}}, runner)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestPipeline_PinsAndRedeploys(t *testing.T) {
	a, inspector, manifest := newPipelineApp(t)
	tool := &fakeTool{}
	ctx := a.Context(context.Background())

	report, err := a.newUpdateService(tool, nil).Run(ctx, []string{manifest})
	require.NoError(t, err)
	require.Len(t, report.Projects, 1)

	pr := report.Projects[0]
	assert.Equal(t, domain.OutcomeUpdated, pr.Outcome, "err: %v", pr.Err)
	assert.Contains(t, pr.Skipped, "db")
	assert.Equal(t, []string{
		"mirror.local/library/nginx:1.27",
		"docker.io/library/nginx:1.27",
	}, inspector.refs)

	pinned := "nginx:1.27@" + pipelineDigest
	assert.Equal(t, []string{"pull " + pinned, "down compose.yaml", "up compose.yaml"}, tool.calls)

	data, err := os.ReadFile(manifest)
	require.NoError(t, err)
	want := strings.Replace(pipelineManifest, `"nginx:1.27"`, `"`+pinned+`"`, 1)
	assert.Equal(t, want, string(data))
	assert.NoFileExists(t, manifest+".bak")

	metrics, err := os.ReadFile(a.Config.Metrics.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `pinup_projects_total{outcome="updated"} 1`)

	// A second run finds nothing to do.
	tool.calls = nil
	report, err = a.newUpdateService(tool, nil).Run(ctx, []string{manifest})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUnchanged, report.Projects[0].Outcome)
	assert.Empty(t, tool.calls)
}

func TestPipeline_RollsBackOnFailedUp(t *testing.T) {
	a, _, manifest := newPipelineApp(t)
	tool := &fakeTool{upErr: errors.New("port already allocated")}

	report, err := a.newUpdateService(tool, nil).Run(a.Context(context.Background()), []string{manifest})
	require.NoError(t, err)
	require.Len(t, report.Projects, 1)

	pr := report.Projects[0]
	assert.Equal(t, domain.OutcomeRolledBack, pr.Outcome)
	assert.ErrorContains(t, pr.Err, "port already allocated")
	assert.True(t, report.HasFailures())
	assert.Equal(t, []string{
		"pull nginx:1.27@" + pipelineDigest,
		"down compose.yaml",
		"up compose.yaml",
		"up compose.yaml",
	}, tool.calls)

	data, err := os.ReadFile(manifest)
	require.NoError(t, err)
	assert.Equal(t, pipelineManifest, string(data))
	assert.NoFileExists(t, manifest+".bak")
}

func TestCheckService_PlansWithoutChanges(t *testing.T) {
	a, _, manifest := newPipelineApp(t)

	report, err := a.CheckService().Check(a.Context(context.Background()), []string{manifest})
	require.NoError(t, err)
	require.Len(t, report.Projects, 1)
	assert.Equal(t, domain.OutcomePending, report.Projects[0].Outcome)
	require.Len(t, report.Projects[0].Plan, 1)
	assert.Equal(t, "web", report.Projects[0].Plan[0].Service)

	data, err := os.ReadFile(manifest)
	require.NoError(t, err)
	assert.Equal(t, pipelineManifest, string(data))
}
