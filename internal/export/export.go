// Package export uploads final artifacts to S3-compatible object storage.
//
// Export is strictly best effort: a failed upload is logged and reported to
// the caller, but callers must never let it change a job's outcome. The
// uploader is nil when export is disabled, and all methods are safe to call
// on a nil receiver.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"quaver/internal/config"
	"quaver/internal/logging"
	"quaver/internal/queue"
)

// Uploader copies published artifacts into a configured bucket.
type Uploader struct {
	client *minio.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewUploader builds an uploader from the export config. It returns nil when
// export is disabled.
func NewUploader(cfg *config.Config, logger *slog.Logger) (*Uploader, error) {
	if !cfg.Export.Enabled {
		return nil, nil
	}
	endpoint := strings.TrimSpace(cfg.Export.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("export enabled but no endpoint configured")
	}
	bucket := strings.TrimSpace(cfg.Export.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("export enabled but no bucket configured")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Export.AccessKey, cfg.Export.SecretKey, ""),
		Secure: cfg.Export.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &Uploader{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(strings.TrimSpace(cfg.Export.Prefix), "/"),
		logger: logging.NewComponentLogger(logger, "export"),
	}, nil
}

// Enabled reports whether uploads will actually happen.
func (u *Uploader) Enabled() bool { return u != nil }

// EnsureBucket creates the target bucket if it does not exist. Losing a
// creation race to another writer is not an error.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	if u == nil {
		return nil
	}
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := u.client.BucketExists(ctx, u.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", u.bucket, err)
	}
	return nil
}

// UploadArtifact copies one published artifact into the bucket and returns
// its object key.
func (u *Uploader) UploadArtifact(ctx context.Context, job *queue.Job, ref queue.ArtifactRef) (string, error) {
	if u == nil {
		return "", nil
	}
	key := u.objectKey(job.ID, ref.Path)
	info, err := u.client.FPutObject(ctx, u.bucket, key, ref.Path, minio.PutObjectOptions{
		ContentType: ref.ContentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	u.logger.Info("artifact exported",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("bucket", u.bucket),
		logging.String("object", key),
		logging.Int64("size_bytes", info.Size),
	)
	return key, nil
}

func (u *Uploader) objectKey(jobID, artifactPath string) string {
	name := filepath.Base(artifactPath)
	if u.prefix == "" {
		return path.Join(jobID, name)
	}
	return path.Join(u.prefix, jobID, name)
}
