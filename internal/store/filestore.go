package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/feedwalker/api/schemas"
)

// FileStore is the filesystem backend. Layout under the root directory:
//
//	records/<collection>/<id>.json
//	blobs/<handle[:2]>/<handle>        raw bytes
//	blobs/<handle[:2]>/<handle>.json   metadata
//	media/<target>/<item id>.json      media references
//
// It implements schemas.Storage.
type FileStore struct {
	root string
	log  *zap.Logger

	// Serialises read-modify-write of media index files.
	mediaMu sync.Mutex
}

var _ schemas.Storage = (*FileStore)(nil)

type blobRecord struct {
	Handle   string               `json:"handle"`
	Metadata schemas.BlobMetadata `json:"metadata"`
	Size     int                  `json:"size"`
	StoredAt time.Time            `json:"stored_at"`
}

// NewFileStore creates the directory layout under root.
func NewFileStore(root string, logger *zap.Logger) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("file store root directory is required")
	}
	for _, sub := range []string{"records", "blobs", "media"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}
	return &FileStore{root: root, log: logger.Named("file_store")}, nil
}

// safeName maps an arbitrary key to a single path element.
func safeName(s string) string {
	if s == "" {
		return "_"
	}
	r := strings.NewReplacer("/", "_", `\`, "_", ":", "_", "..", "_")
	return r.Replace(s)
}

// writeAtomic writes data next to path and renames it into place.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// -- Records --

func (s *FileStore) recordPath(collection, id string) string {
	return filepath.Join(s.root, "records", safeName(collection), safeName(id)+".json")
}

func (s *FileStore) UpsertRecord(ctx context.Context, collection, id string, record interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record %s/%s: %w", collection, id, err)
	}
	if err := writeAtomic(s.recordPath(collection, id), data); err != nil {
		return fmt.Errorf("failed to write record %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *FileStore) GetRecord(ctx context.Context, collection, id string, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(s.recordPath(collection, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("record %s/%s: %w", collection, id, ErrNotFound)
		}
		return fmt.Errorf("failed to read record %s/%s: %w", collection, id, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode record %s/%s: %w", collection, id, err)
	}
	return nil
}

// -- Blobs --

func (s *FileStore) blobPath(handle string) string {
	prefix := handle
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(s.root, "blobs", safeName(prefix), safeName(handle))
}

func (s *FileStore) PutBlob(ctx context.Context, data []byte, meta schemas.BlobMetadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	handle := BlobHandle(data)
	path := s.blobPath(handle)
	if _, err := os.Stat(path + ".json"); err == nil {
		s.log.Debug("Blob already stored.", zap.String("handle", handle))
		return handle, nil
	}

	if err := writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("failed to write blob for %s/%s: %w", meta.Target, meta.ItemID, err)
	}
	rec, err := json.MarshalIndent(blobRecord{
		Handle:   handle,
		Metadata: meta,
		Size:     len(data),
		StoredAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode blob metadata: %w", err)
	}
	if err := writeAtomic(path+".json", rec); err != nil {
		return "", fmt.Errorf("failed to write blob metadata for %s/%s: %w", meta.Target, meta.ItemID, err)
	}
	return handle, nil
}

func (s *FileStore) ReadBlob(ctx context.Context, handle string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.blobPath(handle))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("blob %s: %w", handle, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", handle, err)
	}
	return data, nil
}

func (s *FileStore) ListBlobs(ctx context.Context, target string) ([]schemas.BlobInfo, error) {
	var blobs []schemas.BlobInfo
	err := filepath.WalkDir(filepath.Join(s.root, "blobs"), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var rec blobRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.log.Warn("Skipping unreadable blob metadata.", zap.String("path", path), zap.Error(err))
			return nil
		}
		if rec.Metadata.Target != target {
			return nil
		}
		blobs = append(blobs, schemas.BlobInfo{
			Handle:   rec.Handle,
			Metadata: rec.Metadata,
			Size:     rec.Size,
			StoredAt: rec.StoredAt,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	sort.SliceStable(blobs, func(i, j int) bool { return blobs[i].StoredAt.Before(blobs[j].StoredAt) })
	return blobs, nil
}

// -- Media index --

func (s *FileStore) mediaPath(target, itemID string) string {
	return filepath.Join(s.root, "media", safeName(target), safeName(itemID)+".json")
}

func (s *FileStore) readMediaRefs(target, itemID string) ([]schemas.MediaReference, error) {
	data, err := os.ReadFile(s.mediaPath(target, itemID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var refs []schemas.MediaReference
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

func (s *FileStore) MediaRefs(ctx context.Context, target, itemID string) ([]schemas.MediaReference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mediaMu.Lock()
	defer s.mediaMu.Unlock()
	refs, err := s.readMediaRefs(target, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to read media references for %s/%s: %w", target, itemID, err)
	}
	return refs, nil
}

func (s *FileStore) PutMediaRef(ctx context.Context, target, itemID string, ref schemas.MediaReference) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mediaMu.Lock()
	defer s.mediaMu.Unlock()

	refs, err := s.readMediaRefs(target, itemID)
	if err != nil {
		return false, fmt.Errorf("failed to read media references for %s/%s: %w", target, itemID, err)
	}
	for _, existing := range refs {
		if existing.Ordinal == ref.Ordinal {
			return false, nil
		}
	}
	refs = append(refs, ref)
	sort.Slice(refs, func(i, j int) bool { return refs[i].Ordinal < refs[j].Ordinal })

	data, err := json.MarshalIndent(refs, "", "  ")
	if err != nil {
		return false, fmt.Errorf("failed to encode media references: %w", err)
	}
	if err := writeAtomic(s.mediaPath(target, itemID), data); err != nil {
		return false, fmt.Errorf("failed to write media references for %s/%s: %w", target, itemID, err)
	}
	return true, nil
}

// -- Diagnostics --

// SnapshotDir writes diagnostic PNGs into a directory. It implements schemas.Snapshotter.
type SnapshotDir struct {
	dir string
	now func() time.Time
}

var _ schemas.Snapshotter = (*SnapshotDir)(nil)

// NewSnapshotDir creates dir if needed.
func NewSnapshotDir(dir string) (*SnapshotDir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create diagnostics directory: %w", err)
	}
	return &SnapshotDir{dir: dir, now: time.Now}, nil
}

// SaveSnapshot writes png as <name>_<timestamp>.png and returns the path.
func (d *SnapshotDir) SaveSnapshot(ctx context.Context, name string, png []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(d.dir, fmt.Sprintf("%s_%s.png", safeName(name), d.now().UTC().Format("20060102T150405.000")))
	if err := writeAtomic(path, png); err != nil {
		return "", fmt.Errorf("failed to write snapshot %s: %w", name, err)
	}
	return path, nil
}
