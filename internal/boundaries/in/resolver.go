// Package in defines input ports (interfaces) for use cases.
package in

import (
	"context"

	"github.com/bnema/pinup/internal/domain"
)

// DigestResolver maps an image tag to its current registry digest.
type DigestResolver interface {
	// Resolve returns the sha256 digest of name:tag, trying mirrors of the
	// name's registry (docker.io when it has none) before the registry itself.
	Resolve(ctx context.Context, name, tag string) (string, error)
}

// ManifestUpdater computes and applies digest pins for one manifest.
type ManifestUpdater interface {
	// LoadServices parses the manifest and lists its service images.
	LoadServices(ctx context.Context, path string) ([]domain.ServiceImage, error)

	// ComputeUpdatePlan resolves every eligible service and returns those
	// whose digest differs. skipped maps untouched services to a reason.
	// Only context cancellation is returned as an error.
	ComputeUpdatePlan(ctx context.Context, services []domain.ServiceImage) (plan domain.UpdatePlan, skipped map[string]string, err error)

	// Apply rewrites the planned services in path.
	Apply(ctx context.Context, path string, plan domain.UpdatePlan) (domain.ApplyStatus, error)
}

// Deployer runs the redeploy cycle of a project.
type Deployer interface {
	// Deploy pulls, backs up, tears down, rewrites, and brings the project
	// back up, rolling back the manifest on failure.
	Deploy(ctx context.Context, project domain.Project, plan domain.UpdatePlan) (*domain.DeploymentResult, error)

	// Recover restores a manifest left behind by an interrupted cycle.
	// It reports whether a leftover backup was found.
	Recover(ctx context.Context, project domain.Project) (bool, error)
}

// UpdateService is the top-level pin-and-redeploy workflow.
type UpdateService interface {
	// Run processes the given compose files, or every discovered project
	// when files is empty. Failures are isolated per project; the error is
	// reserved for discovery failures and cancellation.
	Run(ctx context.Context, files []string) (domain.RunReport, error)

	// Check computes plans without touching manifests or containers.
	Check(ctx context.Context, files []string) (domain.RunReport, error)
}
