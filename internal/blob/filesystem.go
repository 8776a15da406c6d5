package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"filedrop/internal/drop"
)

// FileSystemStore is a filesystem-based implementation of drop.BlobStore.
// Objects and their attributes are stored side by side:
//
//	<root>/
//	  objects/
//	    <escaped key>        (object bytes)
//	  meta/
//	    <escaped key>.json   (content type, size, etag, mtime)
type FileSystemStore struct {
	root       string
	objectsDir string
	metaDir    string
}

type objectMeta struct {
	ContentType  string    `json:"contentType"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"lastModified"`
}

// NewFileSystemStore creates a blob store rooted at the given path.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	objectsDir := filepath.Join(root, "objects")
	metaDir := filepath.Join(root, "meta")

	for _, dir := range []string{objectsDir, metaDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating blob directory: %w", err)
		}
	}

	return &FileSystemStore{
		root:       root,
		objectsDir: objectsDir,
		metaDir:    metaDir,
	}, nil
}

// Put writes the object atomically and replaces any previous version.
func (s *FileSystemStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (drop.BlobInfo, error) {
	name := url.PathEscape(key)
	hash := sha256.New()

	written, err := writeFileAtomic(filepath.Join(s.objectsDir, name), io.TeeReader(r, hash))
	if err != nil {
		return drop.BlobInfo{}, err
	}

	meta := objectMeta{
		ContentType:  contentType,
		Size:         written,
		ETag:         hex.EncodeToString(hash.Sum(nil)),
		LastModified: time.Now().UTC(),
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return drop.BlobInfo{}, fmt.Errorf("encoding object metadata: %w", err)
	}
	if _, err := writeFileAtomic(filepath.Join(s.metaDir, name+".json"), bytes.NewReader(data)); err != nil {
		return drop.BlobInfo{}, err
	}

	return meta.info(), nil
}

// Get opens the object stored under key.
func (s *FileSystemStore) Get(ctx context.Context, key string) (*drop.Blob, error) {
	name := url.PathEscape(key)

	f, err := os.Open(filepath.Join(s.objectsDir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", drop.ErrBlobNotFound, key)
		}
		return nil, fmt.Errorf("opening object: %w", err)
	}

	meta, err := s.readMeta(name)
	if err != nil {
		f.Close()
		return nil, err
	}
	if meta == nil {
		// Sidecar lost; fall back to what the filesystem knows.
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("stat object: %w", err)
		}
		meta = &objectMeta{Size: fi.Size(), LastModified: fi.ModTime()}
	}

	return &drop.Blob{BlobInfo: meta.info(), Body: f}, nil
}

// Delete removes the object and its metadata. Missing files are ignored.
func (s *FileSystemStore) Delete(ctx context.Context, key string) error {
	name := url.PathEscape(key)
	for _, path := range []string{
		filepath.Join(s.objectsDir, name),
		filepath.Join(s.metaDir, name+".json"),
	} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing object: %w", err)
		}
	}
	return nil
}

// ValidateSetup verifies that the store directories are accessible.
func (s *FileSystemStore) ValidateSetup() error {
	for _, dir := range []string{s.root, s.objectsDir, s.metaDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("blob directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("blob path is not a directory: %s", dir)
		}
	}
	return nil
}

func (s *FileSystemStore) readMeta(name string) (*objectMeta, error) {
	data, err := os.ReadFile(filepath.Join(s.metaDir, name+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading object metadata: %w", err)
	}
	var meta objectMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decoding object metadata: %w", err)
	}
	return &meta, nil
}

func (m objectMeta) info() drop.BlobInfo {
	return drop.BlobInfo{
		Size:         m.Size,
		ContentType:  m.ContentType,
		ETag:         m.ETag,
		LastModified: m.LastModified,
	}
}

// writeFileAtomic writes r to destPath via a temp file in the same directory
// and a rename, returning the number of bytes written.
func writeFileAtomic(destPath string, r io.Reader) (int64, error) {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("writing data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return written, nil
}

// Compile-time check that FileSystemStore implements drop.BlobStore
var _ drop.BlobStore = (*FileSystemStore)(nil)
