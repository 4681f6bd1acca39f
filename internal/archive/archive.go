// Package archive pushes staged Parquet files to S3 after a
// successful load, so the local staging folder can be pruned without
// losing the raw snapshots.
package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/mgiordano/apielt/internal/config"
	"github.com/mgiordano/apielt/internal/logging"
)

// Archiver uploads staged files to an S3 bucket
type Archiver struct {
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

// New creates an Archiver from the archive configuration. Credentials
// come from the standard AWS chain (env, shared config, instance
// role).
func New(cfg config.ArchiveConfig) (*Archiver, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("creating aws session: %w", err)
	}

	return &Archiver{
		uploader: s3manager.NewUploader(sess),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
	}, nil
}

// Upload archives one staged file under
// {prefix}/{yyyy-mm-dd}/{filename} and returns the object key.
func (a *Archiver) Upload(ctx context.Context, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening staged file for archive: %w", err)
	}
	defer file.Close()

	key := path.Join(a.prefix, time.Now().UTC().Format("2006-01-02"), filepath.Base(localPath))

	result, err := a.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", filepath.Base(localPath), err)
	}

	logging.Debug("archived %s to %s", filepath.Base(localPath), result.Location)
	return key, nil
}

// UploadAll archives every path in the list, logging and continuing
// past individual failures; archival is best effort and never fails a
// run that already loaded successfully. It returns the keys that were
// uploaded.
func (a *Archiver) UploadAll(ctx context.Context, paths []string) []string {
	var keys []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		key, err := a.Upload(ctx, p)
		if err != nil {
			logging.Warn("archiving %s: %v", p, err)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}
