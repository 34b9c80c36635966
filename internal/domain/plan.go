package domain

import (
	"slices"
	"strings"
)

// ServiceImage is one service's declared image in a manifest. Locked holds
// the reason the image cannot be rewritten in place, empty when it can.
type ServiceImage struct {
	Service string
	Image   string
	Locked  string
}

// ServiceUpdatePlan pairs a service's declared reference with the digest
// it should be pinned to.
type ServiceUpdatePlan struct {
	Service   string
	Original  ImageReference
	NewDigest string
	// File is the manifest declaring the image. Empty means the project's
	// main compose file.
	File string
}

// PinnedReference is the reference the service is rewritten and pulled as.
func (p ServiceUpdatePlan) PinnedReference() string {
	return BuildWithDigest(p.Original, p.NewDigest)
}

// UpdatePlan lists the services of a project that need a rewrite, ordered
// by service name then file.
type UpdatePlan []ServiceUpdatePlan

// NewUpdatePlan returns entries sorted by service name then file.
func NewUpdatePlan(entries ...ServiceUpdatePlan) UpdatePlan {
	plan := UpdatePlan(slices.Clone(entries))
	slices.SortFunc(plan, func(a, b ServiceUpdatePlan) int {
		if c := strings.Compare(a.Service, b.Service); c != 0 {
			return c
		}
		return strings.Compare(a.File, b.File)
	})
	return plan
}

// InFile returns a copy of the plan with every entry without a file
// attributed to file.
func (p UpdatePlan) InFile(file string) UpdatePlan {
	plan := slices.Clone(p)
	for i := range plan {
		if plan[i].File == "" {
			plan[i].File = file
		}
	}
	return plan
}

// Files returns the distinct files of the plan in first-seen order.
func (p UpdatePlan) Files() []string {
	var files []string
	for _, entry := range p {
		if !slices.Contains(files, entry.File) {
			files = append(files, entry.File)
		}
	}
	return files
}

// ForFile returns the entries declared in file.
func (p UpdatePlan) ForFile(file string) UpdatePlan {
	var plan UpdatePlan
	for _, entry := range p {
		if entry.File == file {
			plan = append(plan, entry)
		}
	}
	return plan
}

// Empty reports whether nothing needs updating.
func (p UpdatePlan) Empty() bool {
	return len(p) == 0
}

// Lookup returns the plan entry for service.
func (p UpdatePlan) Lookup(service string) (ServiceUpdatePlan, bool) {
	for _, entry := range p {
		if entry.Service == service {
			return entry, true
		}
	}
	return ServiceUpdatePlan{}, false
}

// Services returns the planned service names, each once.
func (p UpdatePlan) Services() []string {
	names := make([]string, 0, len(p))
	for _, entry := range p {
		if !slices.Contains(names, entry.Service) {
			names = append(names, entry.Service)
		}
	}
	return names
}

// ApplyStatus is the outcome of rewriting a manifest with a plan.
type ApplyStatus string

const (
	ApplyUpdated   ApplyStatus = "updated"
	ApplyUnchanged ApplyStatus = "unchanged"
	ApplyError     ApplyStatus = "error"
)
