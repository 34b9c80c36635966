// Package inspect implements out.DigestInspector backends.
package inspect

import (
	"context"
	"time"

	"github.com/bnema/pinup/internal/adapters/out/containertool"
	"github.com/bnema/pinup/internal/boundaries/out"
)

// Options configures an inspector.
type Options struct {
	// Timeout bounds a single inspection. Zero means no limit beyond ctx.
	Timeout time.Duration
	// Insecure allows plain HTTP and unverified TLS.
	Insecure bool
}

// Skopeo inspects references with the skopeo CLI. Credentials are the ones
// skopeo finds itself (containers auth.json or the docker config).
type Skopeo struct {
	runner containertool.Runner
	binary string
	opts   Options
}

// NewSkopeo creates a skopeo inspector running binary through runner.
func NewSkopeo(runner containertool.Runner, binary string, opts Options) *Skopeo {
	if binary == "" {
		binary = "skopeo"
	}
	return &Skopeo{runner: runner, binary: binary, opts: opts}
}

// Inspect implements out.DigestInspector. skopeo prints a JSON document
// whose "Digest" key holds the manifest digest.
func (s *Skopeo) Inspect(ctx context.Context, ref string) ([]byte, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	args := []string{"inspect", "--no-tags"}
	if s.opts.Insecure {
		args = append(args, "--tls-verify=false")
	}
	args = append(args, "docker://"+ref)

	return s.runner.Run(ctx, "", s.binary, args...)
}

var _ out.DigestInspector = (*Skopeo)(nil)
