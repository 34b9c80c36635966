// Package manifest implements planning and applying digest pins to compose files.
package manifest

import (
	"context"
	"fmt"

	"github.com/bnema/pinup/internal/boundaries/in"
	"github.com/bnema/pinup/internal/boundaries/out"
	"github.com/bnema/pinup/internal/domain"
	"github.com/bnema/pinup/internal/logging"
)

// Skip reasons reported for services left out of a plan.
const (
	SkipNoImage         = "no image"
	SkipLocked          = "image cannot be rewritten"
	SkipLocalRegistry   = "local registry"
	SkipUpToDate        = "already pinned to the current digest"
	SkipResolutionError = "digest resolution failed"
)

// Service plans and applies digest pins for manifests.
type Service struct {
	store    out.ManifestStore
	resolver in.DigestResolver
}

// NewService creates a manifest service.
func NewService(store out.ManifestStore, resolver in.DigestResolver) *Service {
	return &Service{store: store, resolver: resolver}
}

// LoadServices lists every service of the manifest at path with its image.
func (s *Service) LoadServices(ctx context.Context, path string) ([]domain.ServiceImage, error) {
	ctx = logging.CtxWithFields(ctx, map[string]any{
		logging.FieldLayer:   "usecase",
		logging.FieldUseCase: "LoadServices",
	})
	log := logging.FromCtx(ctx)

	doc, err := s.store.Load(ctx, path)
	if err != nil {
		return nil, log.WrapErr(err, "failed to load manifest")
	}

	services := doc.Services()
	log.Debug().Str("path", path).Int("services", len(services)).Msg("manifest loaded")
	return services, nil
}

// ComputeUpdatePlan resolves each eligible service and keeps those whose
// resolved digest differs from the one already pinned. Services without an
// image, whose image cannot be rewritten, on a local registry, already
// current, or whose resolution failed are reported in skipped instead.
func (s *Service) ComputeUpdatePlan(ctx context.Context, services []domain.ServiceImage) (domain.UpdatePlan, map[string]string, error) {
	ctx = logging.CtxWithFields(ctx, map[string]any{
		logging.FieldLayer:   "usecase",
		logging.FieldUseCase: "ComputeUpdatePlan",
	})

	skipped := make(map[string]string)
	entries := make([]domain.ServiceUpdatePlan, 0, len(services))

	for _, svc := range services {
		svcCtx := logging.CtxWithFields(ctx, map[string]any{logging.FieldService: svc.Service})
		log := logging.FromCtx(svcCtx)

		if svc.Image == "" {
			skipped[svc.Service] = SkipNoImage
			continue
		}
		if svc.Locked != "" {
			log.Warn().Str(logging.FieldImage, svc.Image).Str("reason", svc.Locked).Msg("service left unchanged")
			skipped[svc.Service] = fmt.Sprintf("%s: %s", SkipLocked, svc.Locked)
			continue
		}

		ref := domain.ParseReference(svc.Image)
		if ref.IsLocal() {
			log.Debug().Str(logging.FieldImage, svc.Image).Msg("skipping image on local registry")
			skipped[svc.Service] = SkipLocalRegistry
			continue
		}

		digest, err := s.resolver.Resolve(svcCtx, ref.Name(), ref.EffectiveTag())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxErr
			}
			log.Warn().Err(err).Str(logging.FieldImage, ref.Familiar()).Msg("service left unchanged")
			skipped[svc.Service] = fmt.Sprintf("%s: %v", SkipResolutionError, err)
			continue
		}

		if digest == ref.Digest {
			skipped[svc.Service] = SkipUpToDate
			continue
		}

		log.Info().
			Str(logging.FieldImage, ref.Familiar()).
			Str("current", ref.Digest).
			Str("latest", digest).
			Msg("update available")
		entries = append(entries, domain.ServiceUpdatePlan{
			Service:   svc.Service,
			Original:  ref,
			NewDigest: digest,
		})
	}

	return domain.NewUpdatePlan(entries...), skipped, nil
}

// Apply rewrites every planned service of the manifest at path to its
// pinned reference. The file is written only when its content changes.
func (s *Service) Apply(ctx context.Context, path string, plan domain.UpdatePlan) (domain.ApplyStatus, error) {
	ctx = logging.CtxWithFields(ctx, map[string]any{
		logging.FieldLayer:   "usecase",
		logging.FieldUseCase: "ApplyPlan",
	})
	log := logging.FromCtx(ctx)

	doc, err := s.store.Load(ctx, path)
	if err != nil {
		return domain.ApplyError, log.WrapErr(err, "failed to reload manifest")
	}

	for _, entry := range plan {
		pinned := entry.PinnedReference()
		if err := doc.SetImage(entry.Service, pinned); err != nil {
			return domain.ApplyError, log.WrapErr(err, fmt.Sprintf("failed to rewrite service %s", entry.Service))
		}
		log.Debug().Str(logging.FieldService, entry.Service).Str(logging.FieldImage, pinned).Msg("image rewritten")
	}

	if !doc.Changed() {
		log.Debug().Str("path", path).Msg("manifest already up to date")
		return domain.ApplyUnchanged, nil
	}

	if err := s.store.Save(ctx, path, doc); err != nil {
		return domain.ApplyError, log.WrapErr(err, "failed to write manifest")
	}

	log.Info().Str("path", path).Strs("services", plan.Services()).Msg("manifest updated")
	return domain.ApplyUpdated, nil
}
