// Package resolve implements digest resolution with registry mirror fallback.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/bnema/pinup/internal/boundaries/out"
	"github.com/bnema/pinup/internal/domain"
	"github.com/bnema/pinup/internal/logging"
)

// Service resolves image tags to digests. Results, failures included, are
// memoised for the lifetime of the service, which is one run.
type Service struct {
	inspector out.DigestInspector
	mirrors   domain.MirrorTable
	metrics   out.MetricsRecorder

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

type cacheKey struct {
	registry string
	repoPath string
	tag      string
}

type cacheEntry struct {
	digest string
	err    error
}

// NewService creates a resolver. metrics may be nil.
func NewService(inspector out.DigestInspector, mirrors domain.MirrorTable, metrics out.MetricsRecorder) *Service {
	return &Service{
		inspector: inspector,
		mirrors:   mirrors,
		metrics:   metrics,
		cache:     make(map[cacheKey]cacheEntry),
	}
}

// Resolve returns the digest name:tag currently points to. name is
// [registry/]repoPath; docker.io is assumed when it has no registry.
// Mirrors are tried in configured order and the registry itself last;
// each candidate is tried once and the first valid digest wins.
func (s *Service) Resolve(ctx context.Context, name, tag string) (string, error) {
	ref := domain.ParseReference(name)
	if tag == "" {
		tag = domain.DefaultTag
	}
	registry := domain.CanonicalRegistry(ref.EffectiveRegistry())

	ctx = logging.CtxWithFields(ctx, map[string]any{
		logging.FieldLayer:   "usecase",
		logging.FieldUseCase: "Resolve",
		logging.FieldImage:   ref.RepoPath + ":" + tag,
	})
	log := logging.FromCtx(ctx)

	key := cacheKey{registry: registry, repoPath: ref.RepoPath, tag: tag}
	s.mu.Lock()
	entry, hit := s.cache[key]
	s.mu.Unlock()
	if hit {
		log.Debug().Msg("digest served from run cache")
		return entry.digest, entry.err
	}

	digest, err := s.resolve(ctx, registry, ref.RepoPath, tag)
	if ctx.Err() != nil {
		// Cancellation is not memoised.
		return digest, err
	}

	s.mu.Lock()
	s.cache[key] = cacheEntry{digest: digest, err: err}
	s.mu.Unlock()

	return digest, err
}

func (s *Service) resolve(ctx context.Context, registry, repoPath, tag string) (string, error) {
	log := logging.FromCtx(ctx)

	if registry == domain.DefaultRegistry && !strings.Contains(repoPath, "/") {
		repoPath = "library/" + repoPath
	}

	candidates := s.mirrors.Candidates(registry)
	var failures []error

	for {
		host, ok := candidates.Next()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		ref := domain.ImageReference{Registry: host, RepoPath: repoPath, Tag: tag}.String()
		digest, err := s.inspect(ctx, ref)
		s.record(host, err == nil)
		if err != nil {
			log.Debug().Err(err).Str("candidate", ref).Int("remaining", candidates.Remaining()).Msg("candidate failed")
			failures = append(failures, fmt.Errorf("%s: %w", host, err))
			continue
		}

		log.Info().Str("candidate", ref).Str("digest", digest).Msg("resolved digest")
		return digest, nil
	}

	err := fmt.Errorf("%w for %s/%s:%s: %w", domain.ErrResolutionFailed, registry, repoPath, tag, errors.Join(failures...))
	log.Warn().Err(err).Msg("no candidate returned a digest")
	return "", err
}

func (s *Service) inspect(ctx context.Context, ref string) (string, error) {
	raw, err := s.inspector.Inspect(ctx, ref)
	if err != nil {
		return "", err
	}

	digest, err := ExtractDigest(raw)
	if err != nil {
		return "", err
	}
	if err := domain.ValidateDigest(digest); err != nil {
		return "", err
	}
	return digest, nil
}

func (s *Service) record(host string, ok bool) {
	if s.metrics != nil {
		s.metrics.RecordResolution(host, ok)
	}
}

// ExtractDigest reads the digest field of an inspection document. The key
// is matched case-insensitively; with several matches the first in sorted
// key order holding a string wins.
func ExtractDigest(raw []byte) (string, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("invalid inspection output: %w", err)
	}

	keys := make([]string, 0, 1)
	for k := range doc {
		if strings.EqualFold(k, "digest") {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	for _, k := range keys {
		var digest string
		if err := json.Unmarshal(doc[k], &digest); err == nil {
			return digest, nil
		}
	}

	return "", errors.New("inspection output has no digest field")
}
