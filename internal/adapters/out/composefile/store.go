package composefile

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/bnema/pinup/internal/adapters/out/filesystem"
	"github.com/bnema/pinup/internal/boundaries/out"
)

// Store loads and saves compose manifests from the local filesystem.
type Store struct {
	log zerolog.Logger
}

// NewStore creates a manifest store.
func NewStore(log zerolog.Logger) *Store {
	return &Store{log: log}
}

// Load parses the manifest at path.
func (s *Store) Load(_ context.Context, path string) (out.ManifestDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Save atomically replaces path with the rendered document.
func (s *Store) Save(_ context.Context, path string, doc out.ManifestDocument) error {
	data, err := doc.Bytes()
	if err != nil {
		return err
	}

	if err := filesystem.WriteFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", path, err)
	}

	s.log.Debug().Str("manifest", path).Int("bytes", len(data)).Msg("manifest written")
	return nil
}
