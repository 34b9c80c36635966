package domain

import (
	"net"
	"regexp"
	"strings"
)

// DefaultRegistry is assumed for references that do not name a registry host.
const DefaultRegistry = "docker.io"

// DefaultTag is the tag resolved when a reference carries no tag.
const DefaultTag = "latest"

var (
	trailingDigestPattern = regexp.MustCompile(`@(sha256:[0-9a-f]{64})$`)
	trailingTagPattern    = regexp.MustCompile(`:([^/]+)$`)
)

// ImageReference is a parsed container image reference.
// Parsing never fails: any string yields a best-effort value, and digest
// validation happens later when a resolved digest is accepted.
type ImageReference struct {
	// Registry is the host[:port] prefix, empty when the reference has none.
	Registry string
	// User is the first path segment of RepoPath, empty for single-segment paths.
	User string
	// Repo is the final path segment.
	Repo string
	// Tag is empty when the reference has no explicit tag (latest).
	Tag string
	// Digest is an existing "sha256:..." pin, empty when absent.
	Digest string
	// Raw is the string the reference was parsed from.
	Raw string
	// RepoPath is the registry-stripped path, [user/]repo.
	RepoPath string
}

// ParseReference splits raw into its registry, path, tag and digest parts.
//
// The digest suffix is stripped first, then a trailing ":tag" whose token
// holds no "/", then the remainder is split on its first "/". The left
// segment is a registry host only when it contains "." or ":" or is
// "localhost"; a bare name such as "nginx" has no registry and no user.
func ParseReference(raw string) ImageReference {
	ref := ImageReference{Raw: raw}
	rest := raw

	if m := trailingDigestPattern.FindStringSubmatchIndex(rest); m != nil {
		ref.Digest = rest[m[2]:m[3]]
		rest = rest[:m[0]]
	}

	if m := trailingTagPattern.FindStringSubmatchIndex(rest); m != nil {
		ref.Tag = rest[m[2]:m[3]]
		rest = rest[:m[0]]
	}

	ref.RepoPath = rest
	if host, path, ok := strings.Cut(rest, "/"); ok && looksLikeRegistry(host) {
		ref.Registry = host
		ref.RepoPath = path
	}

	ref.Repo = ref.RepoPath
	if idx := strings.Index(ref.RepoPath, "/"); idx != -1 {
		ref.User = ref.RepoPath[:idx]
		ref.Repo = ref.RepoPath[strings.LastIndex(ref.RepoPath, "/")+1:]
	}

	return ref
}

func looksLikeRegistry(segment string) bool {
	return strings.ContainsAny(segment, ".:") || segment == "localhost"
}

// BuildWithDigest renders [registry/]repoPath[:tag]@digest. The tag is kept
// when present so the pinned reference still documents which tag it tracks.
func BuildWithDigest(ref ImageReference, digest string) string {
	return ref.Name() + ref.tagSuffix() + "@" + digest
}

// Name returns [registry/]repoPath, the reference without tag or digest.
func (r ImageReference) Name() string {
	if r.Registry == "" {
		return r.RepoPath
	}
	return r.Registry + "/" + r.RepoPath
}

// String rebuilds the reference from its parsed fields.
func (r ImageReference) String() string {
	if r.Digest != "" {
		return BuildWithDigest(r, r.Digest)
	}
	return r.Name() + r.tagSuffix()
}

// Familiar returns [user/]repo[:tag], the short form used in log output.
func (r ImageReference) Familiar() string {
	return r.RepoPath + r.tagSuffix()
}

// EffectiveRegistry returns the registry host, defaulting to docker.io.
func (r ImageReference) EffectiveRegistry() string {
	if r.Registry == "" {
		return DefaultRegistry
	}
	return r.Registry
}

// EffectiveTag returns the tag, defaulting to latest.
func (r ImageReference) EffectiveTag() string {
	if r.Tag == "" {
		return DefaultTag
	}
	return r.Tag
}

// IsLocal reports whether the reference points at a registry on the local
// host. Such images are built or pushed locally and are never repinned.
func (r ImageReference) IsLocal() bool {
	if r.Registry == "" {
		return false
	}
	host := r.Registry
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host == "localhost" || host == "127.0.0.1"
}

// WithRegistry returns a copy of r that targets host instead of its own
// registry. Path, tag and digest are unchanged.
func (r ImageReference) WithRegistry(host string) ImageReference {
	out := r
	out.Registry = host
	out.Raw = out.String()
	return out
}

func (r ImageReference) tagSuffix() string {
	if r.Tag == "" {
		return ""
	}
	return ":" + r.Tag
}
