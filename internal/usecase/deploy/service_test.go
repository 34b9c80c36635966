package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/pinup/internal/domain"
	"github.com/bnema/pinup/internal/testutils"
)

const composeFile = "/srv/shop/compose.yaml"

var originalManifest = []byte("services:\n  web:\n    image: \"nginx:1.27\" # keep quoted\n")

type fakeTool struct {
	calls []string
	fail  map[string]error
	once  map[string]error
	prune domain.PruneReport
}

func (f *fakeTool) record(op string) error {
	f.calls = append(f.calls, op)
	if err, ok := f.once[op]; ok {
		delete(f.once, op)
		return err
	}
	return f.fail[op]
}

func composeFiles(opts domain.ComposeOptions) string {
	return strings.Join(append([]string{opts.ComposeFile}, opts.Overrides...), ",")
}

func (f *fakeTool) Kind() domain.ToolKind { return domain.ToolDocker }

func (f *fakeTool) Pull(_ context.Context, image string) error {
	return f.record("pull " + image)
}

func (f *fakeTool) ComposeDown(_ context.Context, opts domain.ComposeOptions) error {
	return f.record(fmt.Sprintf("down %s %s orphans=%t", opts.ProjectDir, composeFiles(opts), opts.RemoveOrphans))
}

func (f *fakeTool) ComposeUp(_ context.Context, opts domain.ComposeOptions) error {
	return f.record(fmt.Sprintf("up %s %s", opts.ProjectDir, composeFiles(opts)))
}

func (f *fakeTool) PruneDanglingImages(context.Context) (domain.PruneReport, error) {
	return f.prune, f.record("prune")
}

type fakeBackup struct {
	disk       map[string][]byte
	restoreErr error
	backupErr  error
}

func (b *fakeBackup) PathFor(path string) string { return path + ".bak" }

func (b *fakeBackup) Backup(_ context.Context, path string) (string, error) {
	if b.backupErr != nil {
		return "", b.backupErr
	}
	b.disk[b.PathFor(path)] = append([]byte(nil), b.disk[path]...)
	return b.PathFor(path), nil
}

func (b *fakeBackup) Restore(_ context.Context, path string) error {
	if b.restoreErr != nil {
		return b.restoreErr
	}
	data, ok := b.disk[b.PathFor(path)]
	if !ok {
		return errors.New("no backup")
	}
	b.disk[path] = append([]byte(nil), data...)
	return nil
}

func (b *fakeBackup) Remove(_ context.Context, path string) error {
	delete(b.disk, b.PathFor(path))
	return nil
}

func (b *fakeBackup) Exists(_ context.Context, path string) (bool, error) {
	_, ok := b.disk[b.PathFor(path)]
	return ok, nil
}

type fakeApplier struct {
	disk    map[string][]byte
	status  domain.ApplyStatus
	err     error
	failOn  string
	applied map[string][]string
}

func (a *fakeApplier) Apply(_ context.Context, path string, plan domain.UpdatePlan) (domain.ApplyStatus, error) {
	if a.applied == nil {
		a.applied = map[string][]string{}
	}
	a.applied[path] = plan.Services()
	// Simulates a half-written manifest before failing.
	a.disk[path] = []byte("services:\n  web:\n    image: nginx@" + plan[0].NewDigest + "\n")
	if a.failOn == path {
		return domain.ApplyError, errors.New("disk full")
	}
	return a.status, a.err
}

type fixture struct {
	tool    *fakeTool
	backup  *fakeBackup
	applier *fakeApplier
	disk    map[string][]byte
	project domain.Project
	plan    domain.UpdatePlan
}

func newFixture() *fixture {
	disk := map[string][]byte{composeFile: append([]byte(nil), originalManifest...)}
	return &fixture{
		tool:    &fakeTool{fail: map[string]error{}, once: map[string]error{}},
		backup:  &fakeBackup{disk: disk},
		applier: &fakeApplier{disk: disk, status: domain.ApplyUpdated},
		disk:    disk,
		project: domain.NewProject(composeFile),
		plan: domain.NewUpdatePlan(domain.ServiceUpdatePlan{
			Service:   "web",
			Original:  domain.ParseReference("nginx:1.27"),
			NewDigest: testutils.Digest("a"),
		}),
	}
}

func (f *fixture) service(cfg Config) *Service {
	return NewService(f.tool, f.backup, f.applier, cfg)
}

func pinned() string {
	return "nginx:1.27@" + testutils.Digest("a")
}

func TestService_Deploy_HappyPath(t *testing.T) {
	f := newFixture()
	f.tool.prune = domain.PruneReport{DeletedIDs: []string{"sha256:old"}, SpaceReclaimed: 42}

	res, err := f.service(Config{RemoveOrphans: true, Prune: true}).Deploy(testutils.TestContext(t), f.project, f.plan)

	require.NoError(t, err)
	assert.Equal(t, domain.StateCleanedUp, res.State)
	assert.False(t, res.RolledBack)
	assert.Equal(t, []string{"web"}, res.Updated)
	assert.Equal(t, []string{composeFile + ".bak"}, res.BackupPaths)
	assert.Equal(t, uint64(42), res.Pruned.SpaceReclaimed)
	assert.Equal(t, []string{
		"pull " + pinned(),
		"down /srv/shop compose.yaml orphans=true",
		"up /srv/shop compose.yaml",
		"prune",
	}, f.tool.calls)
	assert.NotContains(t, f.disk, composeFile+".bak")
	assert.NotEqual(t, originalManifest, f.disk[composeFile])
}

func TestService_Deploy_EmptyPlan(t *testing.T) {
	f := newFixture()

	res, err := f.service(Config{}).Deploy(testutils.TestContext(t), f.project, nil)

	require.NoError(t, err)
	assert.Equal(t, domain.StatePlanned, res.State)
	assert.Empty(t, f.tool.calls)
}

func TestService_Deploy_PullFailureMutatesNothing(t *testing.T) {
	f := newFixture()
	f.tool.fail["pull "+pinned()] = errors.New("manifest unknown")

	res, err := f.service(Config{}).Deploy(testutils.TestContext(t), f.project, f.plan)

	require.ErrorIs(t, err, domain.ErrPullFailed)
	assert.Equal(t, domain.StatePlanned, res.State)
	assert.Equal(t, []string{"pull " + pinned()}, f.tool.calls)
	assert.Equal(t, originalManifest, f.disk[composeFile])
	assert.NotContains(t, f.disk, composeFile+".bak")
}

func TestService_Deploy_BackupFailure(t *testing.T) {
	f := newFixture()
	f.backup.backupErr = errors.New("read-only file system")

	res, err := f.service(Config{}).Deploy(testutils.TestContext(t), f.project, f.plan)

	require.ErrorIs(t, err, domain.ErrBackupFailed)
	assert.Equal(t, domain.StatePulled, res.State)
	assert.Equal(t, []string{"pull " + pinned()}, f.tool.calls)
}

func TestService_Deploy_ApplyFailureRestoresByteExact(t *testing.T) {
	tests := []struct {
		name   string
		status domain.ApplyStatus
		err    error
	}{
		{name: "apply error", status: domain.ApplyError, err: fmt.Errorf("%w: services is not a mapping", domain.ErrManifestStructure)},
		{name: "error status without error", status: domain.ApplyError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.applier.status = tt.status
			f.applier.err = tt.err

			res, err := f.service(Config{}).Deploy(testutils.TestContext(t), f.project, f.plan)

			require.ErrorIs(t, err, domain.ErrManifestStructure)
			assert.Equal(t, domain.StateRolledBack, res.State)
			assert.True(t, res.RolledBack)
			assert.Empty(t, res.Updated)
			assert.Equal(t, originalManifest, f.disk[composeFile])
			assert.NotContains(t, f.disk, composeFile+".bak")
			assert.Equal(t, []string{
				"pull " + pinned(),
				"down /srv/shop compose.yaml orphans=false",
				"up /srv/shop compose.yaml",
			}, f.tool.calls)
		})
	}
}

func TestService_Deploy_DownFailureStillBringsProjectUp(t *testing.T) {
	f := newFixture()
	f.tool.fail["down /srv/shop compose.yaml orphans=true"] = fmt.Errorf("%w: exit status 1", domain.ErrToolInvocation)

	res, err := f.service(Config{RemoveOrphans: true}).Deploy(testutils.TestContext(t), f.project, f.plan)

	require.ErrorIs(t, err, domain.ErrToolInvocation)
	assert.Equal(t, domain.StateRolledBack, res.State)
	assert.Equal(t, originalManifest, f.disk[composeFile])
	assert.Equal(t, "up /srv/shop compose.yaml", f.tool.calls[len(f.tool.calls)-1])
}

func TestService_Deploy_UpFailureRedeploysRestoredManifest(t *testing.T) {
	f := newFixture()
	f.tool.once["up /srv/shop compose.yaml"] = fmt.Errorf("%w: port already allocated", domain.ErrToolInvocation)

	res, err := f.service(Config{Prune: true}).Deploy(testutils.TestContext(t), f.project, f.plan)

	require.ErrorIs(t, err, domain.ErrToolInvocation)
	assert.Equal(t, domain.StateRolledBack, res.State)
	assert.True(t, res.RolledBack)
	assert.Equal(t, originalManifest, f.disk[composeFile])
	assert.NotContains(t, f.disk, composeFile+".bak")
	assert.Equal(t, []string{
		"pull " + pinned(),
		"down /srv/shop compose.yaml orphans=false",
		"up /srv/shop compose.yaml",
		"up /srv/shop compose.yaml",
	}, f.tool.calls)
}

func TestService_Deploy_UpFailureAfterRollbackIsReported(t *testing.T) {
	f := newFixture()
	f.tool.fail["up /srv/shop compose.yaml"] = fmt.Errorf("%w: network unreachable", domain.ErrToolInvocation)

	res, err := f.service(Config{}).Deploy(testutils.TestContext(t), f.project, f.plan)

	require.ErrorIs(t, err, domain.ErrToolInvocation)
	assert.ErrorContains(t, err, "compose up after rollback failed")
	assert.Equal(t, domain.StateRolledBack, res.State)
	assert.Equal(t, originalManifest, f.disk[composeFile])
	assert.Equal(t, "up /srv/shop compose.yaml", f.tool.calls[len(f.tool.calls)-1])
}

func TestService_Deploy_RollbackFailureKeepsBackup(t *testing.T) {
	f := newFixture()
	f.applier.err = errors.New("disk full")
	f.applier.status = domain.ApplyError
	f.backup.restoreErr = errors.New("permission denied")

	res, err := f.service(Config{}).Deploy(testutils.TestContext(t), f.project, f.plan)

	require.ErrorIs(t, err, domain.ErrRollbackFailed)
	assert.ErrorContains(t, err, composeFile+".bak")
	assert.Equal(t, domain.StateTornDown, res.State)
	assert.False(t, res.RolledBack)
	assert.Contains(t, f.disk, composeFile+".bak")
}

func TestService_Deploy_IgnoresCancellationAfterBackup(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	f.tool.fail = nil
	tool := &cancellingTool{fakeTool: f.tool, cancel: cancel}

	res, err := NewService(tool, f.backup, f.applier, Config{}).Deploy(ctx, f.project, f.plan)

	require.NoError(t, err)
	assert.Equal(t, domain.StateCleanedUp, res.State)
}

// cancellingTool cancels the run while the project is torn down.
type cancellingTool struct {
	*fakeTool
	cancel context.CancelFunc
}

func (c *cancellingTool) ComposeDown(ctx context.Context, opts domain.ComposeOptions) error {
	c.cancel()
	return c.fakeTool.ComposeDown(ctx, opts)
}

func (c *cancellingTool) ComposeUp(ctx context.Context, opts domain.ComposeOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.fakeTool.ComposeUp(ctx, opts)
}

func TestService_Recover(t *testing.T) {
	f := newFixture()
	svc := f.service(Config{})
	ctx := testutils.TestContext(t)

	found, err := svc.Recover(ctx, f.project)
	require.NoError(t, err)
	assert.False(t, found)

	f.disk[composeFile+".bak"] = append([]byte(nil), originalManifest...)
	f.disk[composeFile] = []byte("services: {}\n")

	found, err = svc.Recover(ctx, f.project)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, originalManifest, f.disk[composeFile])
	assert.NotContains(t, f.disk, composeFile+".bak")
}

func TestService_Recover_RestoreFailure(t *testing.T) {
	f := newFixture()
	f.disk[composeFile+".bak"] = originalManifest
	f.backup.restoreErr = errors.New("permission denied")

	found, err := f.service(Config{}).Recover(testutils.TestContext(t), f.project)

	assert.True(t, found)
	assert.ErrorIs(t, err, domain.ErrRollbackFailed)
}

const overrideFile = "/srv/shop/compose.override.yaml"

var originalOverride = []byte("services:\n  worker:\n    image: redis:7\n")

func (f *fixture) withOverride() {
	f.disk[overrideFile] = append([]byte(nil), originalOverride...)
	f.project.Overrides = []string{overrideFile}
	f.plan = domain.NewUpdatePlan(
		domain.ServiceUpdatePlan{
			Service:   "web",
			Original:  domain.ParseReference("nginx:1.27"),
			NewDigest: testutils.Digest("a"),
			File:      composeFile,
		},
		domain.ServiceUpdatePlan{
			Service:   "worker",
			Original:  domain.ParseReference("redis:7"),
			NewDigest: testutils.Digest("b"),
			File:      overrideFile,
		},
	)
}

func TestService_Deploy_EveryConfigFile(t *testing.T) {
	f := newFixture()
	f.withOverride()

	res, err := f.service(Config{}).Deploy(testutils.TestContext(t), f.project, f.plan)

	require.NoError(t, err)
	assert.Equal(t, domain.StateCleanedUp, res.State)
	assert.Equal(t, []string{"web", "worker"}, res.Updated)
	assert.Equal(t, []string{composeFile + ".bak", overrideFile + ".bak"}, res.BackupPaths)
	assert.Equal(t, map[string][]string{composeFile: {"web"}, overrideFile: {"worker"}}, f.applier.applied)
	assert.Equal(t, []string{
		"pull " + pinned(),
		"pull redis:7@" + testutils.Digest("b"),
		"down /srv/shop compose.yaml,compose.override.yaml orphans=false",
		"up /srv/shop compose.yaml,compose.override.yaml",
	}, f.tool.calls)
	assert.NotContains(t, f.disk, composeFile+".bak")
	assert.NotContains(t, f.disk, overrideFile+".bak")
}

func TestService_Deploy_OverrideFailureRestoresEveryFile(t *testing.T) {
	f := newFixture()
	f.withOverride()
	f.applier.failOn = overrideFile

	res, err := f.service(Config{}).Deploy(testutils.TestContext(t), f.project, f.plan)

	require.Error(t, err)
	assert.ErrorContains(t, err, overrideFile)
	assert.Equal(t, domain.StateRolledBack, res.State)
	assert.Equal(t, originalManifest, f.disk[composeFile])
	assert.Equal(t, originalOverride, f.disk[overrideFile])
	assert.NotContains(t, f.disk, composeFile+".bak")
	assert.NotContains(t, f.disk, overrideFile+".bak")
	assert.Equal(t, "up /srv/shop compose.yaml,compose.override.yaml", f.tool.calls[len(f.tool.calls)-1])
}

func TestService_Deploy_UntouchedOverrideIsNotBackedUp(t *testing.T) {
	f := newFixture()
	f.disk[overrideFile] = append([]byte(nil), originalOverride...)
	f.project.Overrides = []string{overrideFile}

	res, err := f.service(Config{}).Deploy(testutils.TestContext(t), f.project, f.plan)

	require.NoError(t, err)
	assert.Equal(t, []string{composeFile + ".bak"}, res.BackupPaths)
	assert.Equal(t, map[string][]string{composeFile: {"web"}}, f.applier.applied)
	assert.Equal(t, originalOverride, f.disk[overrideFile])
}

func TestService_Recover_Override(t *testing.T) {
	f := newFixture()
	f.withOverride()
	f.disk[overrideFile+".bak"] = append([]byte(nil), originalOverride...)
	f.disk[overrideFile] = []byte("services: {}\n")

	found, err := f.service(Config{}).Recover(testutils.TestContext(t), f.project)

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, originalOverride, f.disk[overrideFile])
	assert.Equal(t, originalManifest, f.disk[composeFile])
	assert.NotContains(t, f.disk, overrideFile+".bak")
}
