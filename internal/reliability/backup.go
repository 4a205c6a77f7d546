package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// BackupMetadata describes one uploaded backup archive.
type BackupMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes a single database file within a backup archive.
type DatabaseMetadata struct {
	Name     string `json:"name"`
	Filename string `json:"filename"`
	SHA256   string `json:"sha256"`
	Bytes    int64  `json:"bytes"`
}

// BackupInfo is a listed, previously-uploaded backup.
type BackupInfo struct {
	Key       string
	Timestamp time.Time
}

// BackupService archives the sqlite database files under dataDir into a
// tar.gz, checksums each member, and uploads the archive plus a JSON
// metadata sidecar to object storage.
type BackupService struct {
	object  ObjectStore
	dataDir string
	dbNames []string // e.g. "bars", "signals", "portfolio", "orders", "audit", "cache"
	log     zerolog.Logger
}

// NewBackupService wires a backup service against an already-constructed ObjectStore.
func NewBackupService(object ObjectStore, dataDir string, dbNames []string, log zerolog.Logger) *BackupService {
	return &BackupService{
		object:  object,
		dataDir: dataDir,
		dbNames: dbNames,
		log:     log.With().Str("component", "backup").Logger(),
	}
}

// CreateAndUpload builds an archive of every configured database and uploads
// it under backups/<timestamp>.tar.gz plus a matching .meta.json sidecar.
func (s *BackupService) CreateAndUpload(ctx context.Context) (string, error) {
	stagingDir, err := os.MkdirTemp("", "backup-staging-*")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	meta := BackupMetadata{Timestamp: backupNow()}

	archivePath := filepath.Join(stagingDir, "archive.tar.gz")
	archive, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	defer archive.Close()

	gz := gzip.NewWriter(archive)
	tw := tar.NewWriter(gz)

	for _, name := range s.dbNames {
		dbPath := filepath.Join(s.dataDir, name+".db")
		info, statErr := os.Stat(dbPath)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				continue
			}
			return "", fmt.Errorf("stat %s: %w", dbPath, statErr)
		}

		sum, err := checksumFile(dbPath)
		if err != nil {
			return "", fmt.Errorf("checksum %s: %w", dbPath, err)
		}

		if err := addFileToArchive(tw, dbPath, name+".db", info); err != nil {
			return "", fmt.Errorf("archive %s: %w", dbPath, err)
		}

		meta.Databases = append(meta.Databases, DatabaseMetadata{
			Name:     name,
			Filename: name + ".db",
			SHA256:   sum,
			Bytes:    info.Size(),
		})
	}

	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("close tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("close gzip writer: %w", err)
	}
	if err := archive.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}

	stamp := meta.Timestamp.Format("2006-01-02-150405")
	key := fmt.Sprintf("backups/quant-core-backup-%s.tar.gz", stamp)

	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("reopen archive: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat archive: %w", err)
	}

	if err := s.object.Upload(ctx, key, f, fi.Size()); err != nil {
		return "", fmt.Errorf("upload archive: %w", err)
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	metaKey := strings.TrimSuffix(key, ".tar.gz") + ".meta.json"
	if err := s.object.Upload(ctx, metaKey, strings.NewReader(string(metaBytes)), int64(len(metaBytes))); err != nil {
		return "", fmt.Errorf("upload metadata: %w", err)
	}

	s.log.Info().Str("key", key).Int("databases", len(meta.Databases)).Msg("backup uploaded")
	return key, nil
}

// List returns uploaded backups, newest first.
func (s *BackupService) List(ctx context.Context) ([]BackupInfo, error) {
	keys, err := s.object.List(ctx, "backups/")
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	var out []BackupInfo
	for _, k := range keys {
		if !strings.HasSuffix(k, ".tar.gz") {
			continue
		}
		base := strings.TrimSuffix(filepath.Base(k), ".tar.gz")
		const prefix = "quant-core-backup-"
		idx := strings.Index(base, prefix)
		if idx < 0 {
			continue
		}
		ts, err := time.Parse("2006-01-02-150405", base[idx+len(prefix):])
		if err != nil {
			continue
		}
		out = append(out, BackupInfo{Key: k, Timestamp: ts})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// Rotate deletes backups older than retentionDays, always keeping at least
// the 3 most recent regardless of age.
func (s *BackupService) Rotate(ctx context.Context, retentionDays int) error {
	backups, err := s.List(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= 3 {
		return nil
	}

	cutoff := backupNow().AddDate(0, 0, -retentionDays)
	for _, b := range backups[3:] {
		if b.Timestamp.After(cutoff) {
			continue
		}
		if err := s.object.Delete(ctx, b.Key); err != nil {
			return fmt.Errorf("delete %s: %w", b.Key, err)
		}
		metaKey := strings.TrimSuffix(b.Key, ".tar.gz") + ".meta.json"
		_ = s.object.Delete(ctx, metaKey)
		s.log.Info().Str("key", b.Key).Msg("rotated old backup")
	}
	return nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func addFileToArchive(tw *tar.Writer, path, nameInArchive string, info os.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = nameInArchive

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}

// backupNow is the one clock read in this package, isolated so the rest of
// the package stays deterministic under test: tests replace backupNow itself.
var backupNow = time.Now
