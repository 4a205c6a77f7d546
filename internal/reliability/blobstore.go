package reliability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// ObjectStore is the subset of S3-compatible object storage BlobStore and
// BackupService need, satisfied by *ObjectClient. Kept as an interface so
// both can be exercised in tests without a real bucket.
type ObjectStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// BlobStore is the content-addressed store for PredictorArtifact.ModelBlobRef.
// Blobs are addressed by sha256 of their content; once written under a ref
// they are never mutated, matching the "immutable once trained" invariant.
// Objects are mirrored to S3-compatible object storage when an ObjectStore
// is configured, and always kept locally under ModelBlobPath for fast reads.
type BlobStore struct {
	localDir string
	remote   ObjectStore // nil interface value disables remote mirroring
	log      zerolog.Logger
}

// NewBlobStore creates a blob store rooted at localDir, optionally mirroring
// to remote (pass nil to run local-only).
func NewBlobStore(localDir string, remote ObjectStore, log zerolog.Logger) (*BlobStore, error) {
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &BlobStore{localDir: localDir, remote: remote, log: log.With().Str("component", "blobstore").Logger()}, nil
}

// Put writes r's content, returning a content-addressed ref ("sha256:<hex>")
// that is stable regardless of how many times the same content is stored.
func (s *BlobStore) Put(ctx context.Context, r io.Reader) (ref string, size int64, err error) {
	tmp, err := os.CreateTemp(s.localDir, "upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	h := sha256.New()
	size, err = io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		return "", 0, fmt.Errorf("write blob: %w", err)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	ref = "sha256:" + sum
	dest := s.path(ref)

	if _, statErr := os.Stat(dest); statErr == nil {
		return ref, size, nil // already present, content-addressed dedup
	}

	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("close temp blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", 0, fmt.Errorf("commit blob: %w", err)
	}

	if s.remote != nil {
		f, err := os.Open(dest)
		if err != nil {
			return ref, size, fmt.Errorf("reopen blob for mirror: %w", err)
		}
		defer f.Close()
		if err := s.remote.Upload(ctx, s.remoteKey(ref), f, size); err != nil {
			s.log.Warn().Err(err).Str("ref", ref).Msg("remote mirror failed, blob kept locally")
		}
	}

	return ref, size, nil
}

// Get opens ref for reading, fetching from remote storage first if it is not
// present locally (lazy load, matching the spec's "loaded lazily" blob contract).
func (s *BlobStore) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	path := s.path(ref)
	f, err := os.Open(path)
	if err == nil {
		return f, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("open blob %s: %w", ref, err)
	}
	if s.remote == nil {
		return nil, fmt.Errorf("blob %s not found locally and no remote configured", ref)
	}

	rc, err := s.remote.Download(ctx, s.remoteKey(ref))
	if err != nil {
		return nil, fmt.Errorf("download blob %s: %w", ref, err)
	}
	defer rc.Close()

	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("cache blob %s: %w", ref, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return nil, fmt.Errorf("write cached blob %s: %w", ref, err)
	}
	out.Close()

	return os.Open(path)
}

func (s *BlobStore) path(ref string) string {
	return filepath.Join(s.localDir, filepath.Base(ref)+".blob")
}

func (s *BlobStore) remoteKey(ref string) string {
	return "models/" + ref
}
