package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FSBackend is a filesystem-backed Backend: one JSON file per session
// under Dir, named <sessionID>.json.
type FSBackend struct {
	Dir string
}

// NewFSBackend constructs a FSBackend rooted at dir, creating it if
// necessary.
func NewFSBackend(dir string) (*FSBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: failed to create dir %s: %w", dir, err)
	}
	return &FSBackend{Dir: dir}, nil
}

func (b *FSBackend) path(sessionID string) string {
	return filepath.Join(b.Dir, sessionID+".json")
}

func (b *FSBackend) Save(ctx context.Context, sessionID string, data []byte) error {
	return os.WriteFile(b.path(sessionID), data, 0o644)
}

func (b *FSBackend) Load(ctx context.Context, sessionID string) ([]byte, error) {
	return os.ReadFile(b.path(sessionID))
}

func (b *FSBackend) Delete(ctx context.Context, sessionID string) error {
	err := os.Remove(b.path(sessionID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

var _ Backend = (*FSBackend)(nil)
