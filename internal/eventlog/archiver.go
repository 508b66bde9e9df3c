package eventlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/canvaslink/canvaslink/pkg/fwlog"
)

// ArchiverConfig holds the event log archiver's MinIO connection
// settings. Endpoint left empty disables the archiver entirely.
type ArchiverConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
}

// Archiver periodically uploads each canvas's log file to object
// storage. It never reads a log for replay purposes; replay always uses
// the live local file via Store.Replay.
type Archiver struct {
	store  *Store
	client *minio.Client
	bucket string

	lastArchived map[string]time.Time
}

// NewArchiver connects to MinIO and ensures the configured bucket exists.
// Returns (nil, nil) if cfg.Endpoint is empty, signalling the archiver is
// disabled.
func NewArchiver(ctx context.Context, store *Store, cfg ArchiverConfig) (*Archiver, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
		fwlog.Infof("created archiver bucket %s", cfg.BucketName)
	}

	return &Archiver{
		store:        store,
		client:       client,
		bucket:       cfg.BucketName,
		lastArchived: make(map[string]time.Time),
	}, nil
}

// ArchiveOnce uploads every canvas log file under the store's data
// directory that has been modified since its last archive. A failed
// upload for one canvas is logged and retried on the next tick; it never
// blocks or fails archiving for other canvases.
func (a *Archiver) ArchiveOnce(ctx context.Context) {
	dir := filepath.Join(a.store.dataDir, "canvases")
	entries, err := os.ReadDir(dir)
	if err != nil {
		fwlog.Warnf("archiver: read canvases dir: %v", err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		canvasID := entry.Name()

		info, err := entry.Info()
		if err != nil {
			fwlog.Warnf("archiver: stat %s: %v", canvasID, err)
			continue
		}
		if info.Size() == 0 {
			continue
		}
		if last, ok := a.lastArchived[canvasID]; ok && !info.ModTime().After(last) {
			continue
		}

		if err := a.archiveCanvas(ctx, canvasID); err != nil {
			fwlog.Warnf("archiver: upload %s: %v", canvasID, err)
			continue
		}
		a.lastArchived[canvasID] = info.ModTime()
	}
}

func (a *Archiver) archiveCanvas(ctx context.Context, canvasID string) error {
	f, err := os.Open(a.store.Path(canvasID))
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	objectName := fmt.Sprintf("canvases/%s/%d.ndjson", canvasID, time.Now().Unix())
	_, err = a.client.PutObject(ctx, a.bucket, objectName, f, info.Size(), minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
	})
	return err
}
