package domain

import (
	"maps"
	"slices"
	"strings"
)

// registryAliases maps alternative Docker Hub host names onto the key used
// in mirror configuration.
var registryAliases = map[string]string{
	"index.docker.io":         DefaultRegistry,
	"registry-1.docker.io":    DefaultRegistry,
	"registry.hub.docker.com": DefaultRegistry,
}

// MirrorTable maps a registry host to its ordered fallback mirrors.
// It is built once from configuration and never mutated afterwards.
type MirrorTable struct {
	entries map[string][]string
}

// NewMirrorTable copies raw into a MirrorTable. Hosts are lower-cased and
// trimmed; blank and repeated mirrors are dropped while order is kept.
func NewMirrorTable(raw map[string][]string) MirrorTable {
	entries := make(map[string][]string, len(raw))
	for host, mirrors := range raw {
		key := CanonicalRegistry(host)
		if key == "" {
			continue
		}

		seen := make(map[string]struct{}, len(mirrors))
		clean := make([]string, 0, len(mirrors))
		for _, m := range mirrors {
			m = strings.ToLower(strings.TrimSpace(m))
			if m == "" {
				continue
			}
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			clean = append(clean, m)
		}
		entries[key] = append(entries[key], clean...)
	}
	return MirrorTable{entries: entries}
}

// CanonicalRegistry lower-cases host and folds Docker Hub aliases onto docker.io.
func CanonicalRegistry(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if alias, ok := registryAliases[host]; ok {
		return alias
	}
	return host
}

// Mirrors returns the configured mirrors for registry. The origin is only
// part of the list when configuration names it.
func (t MirrorTable) Mirrors(registry string) []string {
	return slices.Clone(t.entries[CanonicalRegistry(registry)])
}

// Registries returns the configured registry hosts in sorted order.
func (t MirrorTable) Registries() []string {
	return slices.Sorted(maps.Keys(t.entries))
}

// Len returns the number of registries with mirrors configured.
func (t MirrorTable) Len() int {
	return len(t.entries)
}

// Candidates returns the hosts to try for registry: its mirrors in order,
// then the origin itself. An origin already listed among the mirrors, at
// any position, is not appended again: it is tried once at its configured
// position and the mirrors listed after it are still tried afterwards.
func (t MirrorTable) Candidates(registry string) *CandidateSeq {
	origin := CanonicalRegistry(registry)
	if origin == "" {
		origin = DefaultRegistry
	}

	hosts := t.Mirrors(origin)
	if !slices.Contains(hosts, origin) {
		hosts = append(hosts, origin)
	}

	return &CandidateSeq{hosts: hosts}
}

// CandidateSeq is a finite, single-pass sequence of candidate hosts.
// Once a host has been handed out it is never returned again.
type CandidateSeq struct {
	hosts []string
	next  int
}

// Next returns the next host, or false once the sequence is exhausted.
func (s *CandidateSeq) Next() (string, bool) {
	if s.next >= len(s.hosts) {
		return "", false
	}
	host := s.hosts[s.next]
	s.next++
	return host, true
}

// Remaining reports how many hosts have not been handed out yet.
func (s *CandidateSeq) Remaining() int {
	return len(s.hosts) - s.next
}
