package inspect

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/bnema/pinup/internal/boundaries/out"
)

// Registry inspects references by talking to the registry API directly.
type Registry struct {
	keychain authn.Keychain
	opts     Options
}

// descriptor is the inspection document Registry produces.
type descriptor struct {
	Name      string `json:"Name"`
	Digest    string `json:"Digest"`
	MediaType string `json:"MediaType"`
	Size      int64  `json:"Size"`
}

// NewRegistry creates a registry inspector authenticating with keychain.
func NewRegistry(keychain authn.Keychain, opts Options) *Registry {
	if keychain == nil {
		keychain = authn.DefaultKeychain
	}
	return &Registry{keychain: keychain, opts: opts}
}

// Inspect implements out.DigestInspector. It asks for the manifest with a
// HEAD request and falls back to GET for registries that do not report a
// digest on HEAD.
func (r *Registry) Inspect(ctx context.Context, ref string) ([]byte, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	nameOpts := []name.Option{name.WeakValidation}
	if r.opts.Insecure {
		nameOpts = append(nameOpts, name.Insecure)
	}
	parsed, err := name.ParseReference(ref, nameOpts...)
	if err != nil {
		return nil, fmt.Errorf("invalid reference %q: %w", ref, err)
	}

	remoteOpts := []remote.Option{
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(r.keychain),
	}

	desc, err := remote.Head(parsed, remoteOpts...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		full, getErr := remote.Get(parsed, remoteOpts...)
		if getErr != nil {
			return nil, fmt.Errorf("failed to fetch manifest for %s: %w", ref, getErr)
		}
		desc = &full.Descriptor
	}

	return json.Marshal(toDescriptor(parsed, desc))
}

func toDescriptor(ref name.Reference, desc *v1.Descriptor) descriptor {
	return descriptor{
		Name:      ref.Context().Name(),
		Digest:    desc.Digest.String(),
		MediaType: string(desc.MediaType),
		Size:      desc.Size,
	}
}

var _ out.DigestInspector = (*Registry)(nil)
