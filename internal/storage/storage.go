package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ObjectStore holds uploaded chat images. Upload returns the public URL of
// the stored object.
type ObjectStore interface {
	Upload(path string, r io.Reader) (string, error)
}

// DiskStore writes objects under a root directory that the server exposes as
// a static mount.
type DiskStore struct {
	root    string
	baseURL string
}

func NewDiskStore(root, baseURL string) *DiskStore {
	return &DiskStore{root: root, baseURL: baseURL}
}

func (s *DiskStore) Upload(path string, r io.Reader) (string, error) {
	dest := filepath.Join(s.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	return s.baseURL + "/" + path, nil
}

// ChatImagePath builds the storage path for a chat image:
// chats/<chat-id>/<epoch-ms>_<original-filename>.
func ChatImagePath(chatID, filename string) string {
	return fmt.Sprintf("chats/%s/%d_%s", chatID, time.Now().UnixMilli(), filepath.Base(filename))
}
