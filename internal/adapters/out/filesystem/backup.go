package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// ManifestBackup keeps a sibling copy of a manifest, named after it with a
// fixed suffix (compose.yaml.bak). Its presence at startup marks a cycle
// that did not finish.
type ManifestBackup struct {
	suffix string
	log    zerolog.Logger
}

// NewManifestBackup creates a backup store using suffix.
func NewManifestBackup(suffix string, log zerolog.Logger) *ManifestBackup {
	return &ManifestBackup{suffix: suffix, log: log}
}

// PathFor returns the backup location of path.
func (b *ManifestBackup) PathFor(path string) string {
	return path + b.suffix
}

// Backup copies path to its backup location.
func (b *ManifestBackup) Backup(_ context.Context, path string) (string, error) {
	dst := b.PathFor(path)
	if err := CopyFileAtomic(path, dst); err != nil {
		return "", fmt.Errorf("failed to back up %s: %w", path, err)
	}
	b.log.Debug().Str("manifest", path).Str("backup", dst).Msg("manifest backed up")
	return dst, nil
}

// Restore replaces path with its backup. The backup itself is kept.
func (b *ManifestBackup) Restore(_ context.Context, path string) error {
	src := b.PathFor(path)
	if err := CopyFileAtomic(src, path); err != nil {
		return fmt.Errorf("failed to restore %s from %s: %w", path, src, err)
	}
	b.log.Debug().Str("manifest", path).Str("backup", src).Msg("manifest restored")
	return nil
}

// Remove deletes the backup of path if present.
func (b *ManifestBackup) Remove(_ context.Context, path string) error {
	if err := os.Remove(b.PathFor(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove backup: %w", err)
	}
	return nil
}

// Exists reports whether a backup of path is present.
func (b *ManifestBackup) Exists(_ context.Context, path string) (bool, error) {
	info, err := os.Stat(b.PathFor(path))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Errorf("backup %s is not a regular file", b.PathFor(path))
	}
	return true, nil
}
