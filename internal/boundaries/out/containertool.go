package out

import (
	"context"

	"github.com/bnema/pinup/internal/domain"
)

// ContainerTool defines the container engine operations a redeploy needs.
// Implementations never change the process working directory; every compose
// call is scoped by domain.ComposeOptions.
type ContainerTool interface {
	// Kind reports which tool family commands are issued to.
	Kind() domain.ToolKind

	// Pull fetches image into the local store.
	Pull(ctx context.Context, image string) error

	// ComposeDown stops and removes the project's containers.
	ComposeDown(ctx context.Context, opts domain.ComposeOptions) error

	// ComposeUp recreates the project's containers in detached mode.
	ComposeUp(ctx context.Context, opts domain.ComposeOptions) error

	// PruneDanglingImages removes untagged images no container references.
	PruneDanglingImages(ctx context.Context) (domain.PruneReport, error)
}

// ImageBackend is the subset of ContainerTool an engine API client can serve.
type ImageBackend interface {
	Pull(ctx context.Context, image string) error
	PruneDanglingImages(ctx context.Context) (domain.PruneReport, error)
}

// ProjectLister enumerates the compose projects known to the engine.
type ProjectLister interface {
	ListProjects(ctx context.Context) ([]domain.Project, error)
}
