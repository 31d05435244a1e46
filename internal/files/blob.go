package files

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore is the opaque byte store behind file attachments. Rows in
// the database reference blobs by stored name; URL resolves a stored
// name to something a client can fetch.
type BlobStore interface {
	Save(storedName string, data []byte) error
	Open(storedName string) (io.ReadCloser, error)
	Remove(storedName string) error
	URL(storedName string) string
}

// StoredName generates a collision-free blob name preserving the
// original extension, so Category keeps working on the stored side too.
func StoredName(originalName string) string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return hex.EncodeToString(buf) + strings.ToLower(filepath.Ext(originalName))
}

// DiskStore keeps blobs in a local directory and serves them under
// baseURL. Swappable for an object store without touching callers.
type DiskStore struct {
	dir     string
	baseURL string
}

func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskStore{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

func (d *DiskStore) Save(storedName string, data []byte) error {
	return os.WriteFile(filepath.Join(d.dir, storedName), data, 0o644)
}

func (d *DiskStore) Open(storedName string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(d.dir, storedName))
}

func (d *DiskStore) Remove(storedName string) error {
	err := os.Remove(filepath.Join(d.dir, storedName))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (d *DiskStore) URL(storedName string) string {
	return d.baseURL + "/files/" + storedName
}
