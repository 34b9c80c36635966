// Package update implements the top-level pin-and-redeploy run over
// compose projects.
package update

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bnema/pinup/internal/boundaries/in"
	"github.com/bnema/pinup/internal/boundaries/out"
	"github.com/bnema/pinup/internal/domain"
	"github.com/bnema/pinup/internal/logging"
)

// ErrNoProjects is returned when discovery finds nothing to process.
var ErrNoProjects = errors.New("no compose projects found")

// Service runs update cycles project by project.
type Service struct {
	lister    out.ProjectLister
	updater   in.ManifestUpdater
	deployer  in.Deployer
	validator out.ManifestValidator
	metrics   out.MetricsRecorder
	newRunID  func() string
}

// NewService creates an update service. lister, validator and metrics
// may be nil: without a lister compose files must be given explicitly.
func NewService(
	lister out.ProjectLister,
	updater in.ManifestUpdater,
	deployer in.Deployer,
	validator out.ManifestValidator,
	metrics out.MetricsRecorder,
) *Service {
	return &Service{
		lister:    lister,
		updater:   updater,
		deployer:  deployer,
		validator: validator,
		metrics:   metrics,
		newRunID:  uuid.NewString,
	}
}

// Run processes every project sequentially. A failing project is recorded
// in the report and the run moves on to the next one.
func (s *Service) Run(ctx context.Context, files []string) (domain.RunReport, error) {
	ctx = logging.CtxWithFields(ctx, map[string]any{
		logging.FieldLayer:   "usecase",
		logging.FieldUseCase: "Run",
	})
	log := logging.FromCtx(ctx)

	projects, err := s.projects(ctx, files)
	if err != nil {
		return domain.RunReport{}, err
	}

	var report domain.RunReport
	for _, project := range projects {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		start := time.Now()
		pr := s.runProject(ctx, project)
		report.Projects = append(report.Projects, pr)
		if s.metrics != nil {
			s.metrics.RecordProject(pr, time.Since(start))
		}
	}

	if s.metrics != nil {
		if err := s.metrics.Flush(); err != nil {
			log.Warn().Err(err).Msg("failed to write metrics")
		}
	}

	log.Info().
		Int("updated", report.Count(domain.OutcomeUpdated)).
		Int("unchanged", report.Count(domain.OutcomeUnchanged)).
		Int("failed", report.Count(domain.OutcomeFailed)).
		Int("rolled_back", report.Count(domain.OutcomeRolledBack)).
		Msg("run finished")

	return report, nil
}

func (s *Service) runProject(ctx context.Context, project domain.Project) domain.ProjectReport {
	report := domain.ProjectReport{Project: project, RunID: s.newRunID()}
	ctx = logging.CtxWithFields(ctx, map[string]any{
		logging.FieldProject: project.Name,
		logging.FieldRunID:   report.RunID,
	})
	log := logging.FromCtx(ctx)

	fail := func(err error) domain.ProjectReport {
		report.Outcome = domain.OutcomeFailed
		report.Err = err
		log.Error().Err(err).Str("manifest", project.ComposeFile).Msg("project failed")
		return report
	}

	recovered, err := s.deployer.Recover(ctx, project)
	report.Recovered = recovered
	if err != nil {
		return fail(err)
	}

	plan, skipped, err := s.plan(ctx, project)
	report.Plan, report.Skipped = plan, skipped
	if err != nil {
		return fail(err)
	}
	if plan.Empty() {
		report.Outcome = domain.OutcomeUnchanged
		log.Info().Msg("all services up to date")
		return report
	}

	res, err := s.deployer.Deploy(ctx, project, plan)
	report.Result = res
	if err != nil {
		if res != nil && res.RolledBack {
			report.Outcome = domain.OutcomeRolledBack
			report.Err = err
			return report
		}
		return fail(err)
	}

	report.Outcome = domain.OutcomeUpdated
	return report
}

// Check plans every project without changing manifests or containers.
// Planned projects are reported as pending.
func (s *Service) Check(ctx context.Context, files []string) (domain.RunReport, error) {
	ctx = logging.CtxWithFields(ctx, map[string]any{
		logging.FieldLayer:   "usecase",
		logging.FieldUseCase: "Check",
	})

	projects, err := s.projects(ctx, files)
	if err != nil {
		return domain.RunReport{}, err
	}

	var report domain.RunReport
	for _, project := range projects {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		pr := domain.ProjectReport{Project: project, RunID: s.newRunID()}
		pctx := logging.CtxWithFields(ctx, map[string]any{
			logging.FieldProject: project.Name,
			logging.FieldRunID:   pr.RunID,
		})

		if s.validator != nil {
			if err := s.validator.Validate(pctx, project); err != nil {
				pr.Outcome, pr.Err = domain.OutcomeFailed, err
				report.Projects = append(report.Projects, pr)
				continue
			}
		}

		plan, skipped, err := s.plan(pctx, project)
		pr.Plan, pr.Skipped = plan, skipped
		switch {
		case err != nil:
			pr.Outcome, pr.Err = domain.OutcomeFailed, err
		case plan.Empty():
			pr.Outcome = domain.OutcomeUnchanged
		default:
			pr.Outcome = domain.OutcomePending
		}
		report.Projects = append(report.Projects, pr)
	}

	return report, nil
}

// plan computes the pins of every manifest of project. Skip reasons of
// services declared in an override are keyed by the override's base name.
// Overrides without a services section are ignored.
func (s *Service) plan(ctx context.Context, project domain.Project) (domain.UpdatePlan, map[string]string, error) {
	log := logging.FromCtx(ctx)

	var entries domain.UpdatePlan
	skipped := make(map[string]string)
	for _, file := range project.Files() {
		services, err := s.updater.LoadServices(ctx, file)
		if err != nil {
			if file != project.ComposeFile && errors.Is(err, domain.ErrNoServices) {
				log.Debug().Str("manifest", file).Msg("override declares no services")
				continue
			}
			return nil, nil, err
		}

		plan, fileSkipped, err := s.updater.ComputeUpdatePlan(ctx, services)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, plan.InFile(file)...)
		for service, reason := range fileSkipped {
			if file != project.ComposeFile {
				service = filepath.Base(file) + ": " + service
			}
			skipped[service] = reason
		}
	}
	return domain.NewUpdatePlan(entries...), skipped, nil
}

// projects returns the projects named by files, or discovers them.
func (s *Service) projects(ctx context.Context, files []string) ([]domain.Project, error) {
	log := logging.FromCtx(ctx)

	if len(files) > 0 {
		seen := make(map[string]struct{}, len(files))
		projects := make([]domain.Project, 0, len(files))
		for _, f := range files {
			p := domain.NewProject(f)
			if _, dup := seen[p.ComposeFile]; dup {
				continue
			}
			seen[p.ComposeFile] = struct{}{}
			projects = append(projects, p)
		}
		return projects, nil
	}

	if s.lister == nil {
		return nil, fmt.Errorf("%w: no compose files given and discovery is unavailable", ErrNoProjects)
	}

	projects, err := s.lister.ListProjects(ctx)
	if err != nil {
		return nil, log.WrapErr(err, "failed to discover compose projects")
	}
	if len(projects) == 0 {
		return nil, ErrNoProjects
	}

	log.Info().Int("projects", len(projects)).Msg("compose projects discovered")
	return projects, nil
}
