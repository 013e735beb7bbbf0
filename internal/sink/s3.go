package sink

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/slicedl/internal/transport"
)

// S3Sink uploads through the S3 transfer manager, which switches to multipart
// uploads for large bodies.
type S3Sink struct {
	uploader *manager.Uploader
}

func NewS3Sink(client manager.UploadAPIClient, partSize int64) *S3Sink {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if partSize >= manager.MinUploadPartSize {
			u.PartSize = partSize
		}
	})
	return &S3Sink{uploader: uploader}
}

func (s *S3Sink) Write(ctx context.Context, dest string, data []byte) (string, error) {
	bucket, key, err := transport.ParseS3URL(dest)
	if err != nil {
		return "", err
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("error uploading to %s: %w", dest, err)
	}
	log.Info().Str("op", "sink/s3").Msgf("uploaded %d bytes to %s", len(data), dest)
	return dest, nil
}
