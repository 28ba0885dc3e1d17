package adapters

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// FSAttachmentStore removes attachment payloads from local disk. Paths
// are confined to the configured root; anything escaping it is refused.
type FSAttachmentStore struct {
	root string
}

func NewFSAttachmentStore(root string) *FSAttachmentStore {
	return &FSAttachmentStore{root: root}
}

func (s *FSAttachmentStore) Remove(ctx context.Context, path string) error {
	full := filepath.Join(s.root, filepath.Clean("/"+path))
	if !strings.HasPrefix(full, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return os.ErrPermission
	}

	err := os.Remove(full)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
