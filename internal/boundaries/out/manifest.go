package out

import (
	"context"

	"github.com/bnema/pinup/internal/domain"
)

// ManifestDocument is a parsed compose manifest that can be edited without
// disturbing anything except the rewritten image values.
type ManifestDocument interface {
	// Services returns every service with its declared image, in file order.
	// Services without an image field are reported with an empty Image.
	Services() []domain.ServiceImage

	// SetImage rewrites the image of service. It fails with
	// domain.ErrServiceNotFound or domain.ErrImageNotEditable.
	SetImage(service, image string) error

	// Changed reports whether any SetImage call altered the content.
	Changed() bool

	// Bytes renders the document.
	Bytes() ([]byte, error)
}

// ManifestStore reads and writes manifest documents.
type ManifestStore interface {
	Load(ctx context.Context, path string) (ManifestDocument, error)
	// Save replaces path with doc atomically, keeping the file mode.
	Save(ctx context.Context, path string, doc ManifestDocument) error
}

// ManifestValidator checks a manifest against the compose specification.
type ManifestValidator interface {
	Validate(ctx context.Context, project domain.Project) error
}

// ManifestBackup keeps a byte-exact copy of a manifest next to it.
type ManifestBackup interface {
	// Backup copies path to its backup location and returns that location.
	Backup(ctx context.Context, path string) (string, error)
	// Restore copies the backup over path, byte for byte.
	Restore(ctx context.Context, path string) error
	// Remove deletes the backup of path. A missing backup is not an error.
	Remove(ctx context.Context, path string) error
	// Exists reports whether a backup of path is present.
	Exists(ctx context.Context, path string) (bool, error)
	// PathFor returns where the backup of path lives.
	PathFor(path string) string
}
