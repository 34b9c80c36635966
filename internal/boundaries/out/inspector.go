// Package out defines output ports (interfaces) for infrastructure.
// These interfaces define the contract between use cases and driven adapters
// (registries, container tools, the filesystem, etc.).
package out

import "context"

// DigestInspector fetches manifest metadata for a fully qualified image
// reference. The returned document is JSON carrying a "digest" key; key
// matching is case-insensitive so both skopeo and registry descriptors fit.
type DigestInspector interface {
	Inspect(ctx context.Context, ref string) ([]byte, error)
}
