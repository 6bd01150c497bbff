package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/rs/zerolog"
)

// PutObjectAPI is the subset of the S3 client the writer uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Writer struct {
	client PutObjectAPI
	bucket string
	key    string
}

// NewS3Writer uploads reports to bucket/key. A key ending in "/" is treated
// as a prefix and each run is stored as <prefix><run id>.json.
func NewS3Writer(client PutObjectAPI, bucket, key string) *S3Writer {
	return &S3Writer{client: client, bucket: bucket, key: key}
}

func NewS3WriterFromConfig(cfg aws.Config, bucket, key string) *S3Writer {
	return NewS3Writer(s3.NewFromConfig(cfg), bucket, key)
}

func (w *S3Writer) objectKey(report domain.AuditReport) string {
	switch {
	case w.key == "":
		return "audits/" + report.RunID + ".json"
	case strings.HasSuffix(w.key, "/"):
		return w.key + report.RunID + ".json"
	}
	return w.key
}

func (w *S3Writer) Write(ctx context.Context, report domain.AuditReport) error {
	data, err := Marshal(report)
	if err != nil {
		return err
	}

	key := w.objectKey(report)
	_, err = w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload report to s3://%s/%s: %w", w.bucket, key, err)
	}

	zerolog.Ctx(ctx).Info().Str("bucket", w.bucket).Str("key", key).Str("run_id", report.RunID).Msg("report uploaded")
	return nil
}
