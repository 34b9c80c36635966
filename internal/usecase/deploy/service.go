// Package deploy implements the pull, backup, redeploy and rollback cycle
// of a compose project.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bnema/pinup/internal/boundaries/out"
	"github.com/bnema/pinup/internal/domain"
	"github.com/bnema/pinup/internal/logging"
)

// Config holds deployment behaviour switches.
type Config struct {
	// RemoveOrphans passes orphan removal to compose down.
	RemoveOrphans bool
	// Prune removes dangling images after a successful cycle.
	Prune bool
}

type manifestApplier interface {
	Apply(ctx context.Context, path string, plan domain.UpdatePlan) (domain.ApplyStatus, error)
}

// Service orchestrates one project's update cycle.
type Service struct {
	tool    out.ContainerTool
	backup  out.ManifestBackup
	applier manifestApplier
	config  Config
}

// NewService creates a deployment service.
func NewService(tool out.ContainerTool, backup out.ManifestBackup, applier manifestApplier, config Config) *Service {
	return &Service{
		tool:    tool,
		backup:  backup,
		applier: applier,
		config:  config,
	}
}

// Deploy runs the cycle for project: pull every pinned image, back up each
// manifest the plan touches, tear the project down, rewrite the manifests,
// and bring it back up. Nothing is mutated until every pull has succeeded.
// Any failure after the backups restores the manifests byte for byte and
// brings the project back up on them before returning. Once the backups
// exist the cycle ignores cancellation and runs to completion.
func (s *Service) Deploy(ctx context.Context, project domain.Project, plan domain.UpdatePlan) (*domain.DeploymentResult, error) {
	ctx = logging.CtxWithFields(ctx, map[string]any{
		logging.FieldLayer:   "usecase",
		logging.FieldUseCase: "Deploy",
		logging.FieldProject: project.Name,
	})
	log := logging.FromCtx(ctx)

	res := &domain.DeploymentResult{Project: project.Name, State: domain.StatePlanned}
	if plan.Empty() {
		log.Info().Msg("nothing to update")
		return res, nil
	}

	for _, entry := range plan {
		pinned := entry.PinnedReference()
		log.Info().Str(logging.FieldService, entry.Service).Str(logging.FieldImage, pinned).Msg("pulling image")
		if err := s.tool.Pull(ctx, pinned); err != nil {
			return res, log.WrapErr(fmt.Errorf("%w %s: %w", domain.ErrPullFailed, pinned, err), "aborting before any change")
		}
	}
	if err := res.Advance(domain.StatePulled); err != nil {
		return res, err
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	ctx = context.WithoutCancel(ctx)

	plan = plan.InFile(project.ComposeFile)
	files := plan.Files()
	for _, file := range files {
		backupPath, err := s.backup.Backup(ctx, file)
		if err != nil {
			s.removeBackups(ctx, res.BackupPaths, files)
			res.BackupPaths = nil
			return res, log.WrapErr(fmt.Errorf("%w: %w", domain.ErrBackupFailed, err), "aborting before any change")
		}
		res.BackupPaths = append(res.BackupPaths, backupPath)
		log.Debug().Str("backup", backupPath).Msg("manifest backed up")
	}
	if err := res.Advance(domain.StateBackedUp); err != nil {
		return res, err
	}

	opts := domain.ComposeOptionsFor(project, s.config.RemoveOrphans)

	if err := s.tool.ComposeDown(ctx, opts); err != nil {
		return s.rollback(ctx, project, files, res, fmt.Errorf("compose down failed: %w", err))
	}
	if err := res.Advance(domain.StateTornDown); err != nil {
		return res, err
	}

	changed := false
	for _, file := range files {
		status, err := s.applier.Apply(ctx, file, plan.ForFile(file))
		if err == nil && status == domain.ApplyError {
			err = fmt.Errorf("%w: manifest rewrite reported an error", domain.ErrManifestStructure)
		}
		if err != nil {
			return s.rollback(ctx, project, files, res, fmt.Errorf("manifest update of %s failed: %w", file, err))
		}
		changed = changed || status == domain.ApplyUpdated
	}
	if err := res.Advance(domain.StateManifestUpdated); err != nil {
		return res, err
	}
	res.Updated = plan.Services()
	if !changed {
		log.Warn().Msg("manifest already carried the planned pins")
	}

	if err := s.tool.ComposeUp(ctx, opts); err != nil {
		return s.rollback(ctx, project, files, res, fmt.Errorf("compose up failed: %w", err))
	}
	if err := res.Advance(domain.StateRedeployed); err != nil {
		return res, err
	}
	log.Info().Strs("services", res.Updated).Msg("project redeployed")

	for _, file := range files {
		if err := s.backup.Remove(ctx, file); err != nil {
			return res, log.WrapErr(err, "failed to remove manifest backup")
		}
	}
	if err := res.Advance(domain.StateCleanedUp); err != nil {
		return res, err
	}

	if s.config.Prune {
		report, err := s.tool.PruneDanglingImages(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to prune dangling images")
		} else {
			res.Pruned = report
			log.Info().
				Int("deleted", len(report.DeletedIDs)).
				Uint64("reclaimed_bytes", report.SpaceReclaimed).
				Msg("dangling images pruned")
		}
	}

	return res, nil
}

// rollback restores every backed up manifest, then brings the project back
// up on the restored files so it is never left down. Backups are kept when
// any restore fails.
func (s *Service) rollback(ctx context.Context, project domain.Project, files []string, res *domain.DeploymentResult, cause error) (*domain.DeploymentResult, error) {
	log := logging.FromCtx(ctx)
	log.Error().Err(cause).Str("state", string(res.State)).Msg("deployment failed, rolling back manifest")

	var restoreErrs []error
	for _, file := range files {
		if err := s.backup.Restore(ctx, file); err != nil {
			log.Error().
				Err(err).
				Str("backup", s.backup.PathFor(file)).
				Str("manifest", file).
				Msg("rollback failed, manual intervention required")
			restoreErrs = append(restoreErrs, err)
		}
	}
	if len(restoreErrs) > 0 {
		return res, fmt.Errorf("%w: backups kept at %s: %w", domain.ErrRollbackFailed, strings.Join(res.BackupPaths, ", "), errors.Join(append([]error{cause}, restoreErrs...)...))
	}
	if err := res.Advance(domain.StateRolledBack); err != nil {
		return res, errors.Join(cause, err)
	}

	opts := domain.ComposeOptionsFor(project, s.config.RemoveOrphans)
	if err := s.tool.ComposeUp(ctx, opts); err != nil {
		log.Error().Err(err).Msg("compose up on restored manifest failed")
		cause = errors.Join(cause, fmt.Errorf("compose up after rollback failed: %w", err))
	}

	s.removeBackups(ctx, res.BackupPaths, files)

	log.Warn().Msg("manifest rolled back")
	return res, cause
}

// removeBackups deletes the backups in made, logging failures.
func (s *Service) removeBackups(ctx context.Context, made []string, files []string) {
	log := logging.FromCtx(ctx)
	for _, file := range files {
		if !slices.Contains(made, s.backup.PathFor(file)) {
			continue
		}
		if err := s.backup.Remove(ctx, file); err != nil {
			log.Warn().Err(err).Str("backup", s.backup.PathFor(file)).Msg("failed to remove backup")
		}
	}
}

// Recover restores every manifest of project whose backup was left behind
// by an interrupted cycle, then removes those backups. It reports whether a
// leftover was found.
func (s *Service) Recover(ctx context.Context, project domain.Project) (bool, error) {
	ctx = logging.CtxWithFields(ctx, map[string]any{
		logging.FieldLayer:   "usecase",
		logging.FieldUseCase: "Recover",
		logging.FieldProject: project.Name,
	})
	log := logging.FromCtx(ctx)

	found := false
	for _, file := range project.Files() {
		exists, err := s.backup.Exists(ctx, file)
		if err != nil {
			return found, log.WrapErr(err, "failed to check for leftover backup")
		}
		if !exists {
			continue
		}
		found = true

		log.Warn().Str("backup", s.backup.PathFor(file)).Msg("leftover backup found, restoring manifest")
		if err := s.backup.Restore(ctx, file); err != nil {
			return true, log.WrapErr(fmt.Errorf("%w: %w", domain.ErrRollbackFailed, err), "failed to restore leftover backup")
		}
		if err := s.backup.Remove(ctx, file); err != nil {
			return true, log.WrapErr(err, "failed to remove leftover backup")
		}
	}
	return found, nil
}
