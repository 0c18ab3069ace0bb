// Package backup copies the local account store to a storage bucket.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dvloznov/bank-sheets-sync/internal/logger"
)

// Object is one uploaded file.
type Object struct {
	LocalPath string
	URI       string
}

// Backup uploads snapshots under bucket/prefix.
type Backup struct {
	storage StorageService
	bucket  string
	prefix  string
	now     func() time.Time
}

// New creates a Backup.
func New(storage StorageService, bucket, prefix string) *Backup {
	return &Backup{storage: storage, bucket: bucket, prefix: prefix, now: time.Now}
}

// ObjectName is where a local file lands for a snapshot taken at t:
// <prefix>/<YYYYMMDD_HHMMSS>/<basename>.
func (b *Backup) ObjectName(t time.Time, localPath string) string {
	return path.Join(b.prefix, t.UTC().Format("20060102_150405"), filepath.Base(localPath))
}

// URI returns the gs:// form of an object in the backup bucket.
func (b *Backup) URI(object string) string {
	return fmt.Sprintf("gs://%s/%s", b.bucket, object)
}

// Snapshot uploads every existing file in paths under one timestamp. Missing
// optional files are skipped; the first path is required.
func (b *Backup) Snapshot(ctx context.Context, paths ...string) ([]Object, error) {
	log := logger.FromContext(ctx)

	if len(paths) == 0 {
		return nil, errors.New("Snapshot: no files given")
	}

	at := b.now()
	var uploaded []Object
	for i, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) && i > 0 {
				log.Debug().Str("path", p).Msg("Skipping missing file")
				continue
			}
			return uploaded, fmt.Errorf("Snapshot: checking %s: %w", p, err)
		}

		object := b.ObjectName(at, p)
		if err := b.storage.UploadFile(ctx, b.bucket, object, p); err != nil {
			return uploaded, fmt.Errorf("Snapshot: uploading %s: %w", p, err)
		}

		uri := b.URI(object)
		log.Info().Str("path", p).Str("uri", uri).Msg("Uploaded backup")
		uploaded = append(uploaded, Object{LocalPath: p, URI: uri})
	}
	return uploaded, nil
}
