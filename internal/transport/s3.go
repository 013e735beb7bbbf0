package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the part of the S3 client the transport needs.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Transport answers ranged requests for s3://bucket/key URLs with HTTP-like responses.
type S3Transport struct {
	client S3API
}

func NewS3Transport(client S3API) *S3Transport {
	return &S3Transport{client: client}
}

// NewS3Client loads the shared AWS config for profile.
func NewS3Client(ctx context.Context, profile string) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRetryMode("adaptive")}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

func (t *S3Transport) Do(ctx context.Context, r *Request) (*Response, error) {
	bucket, key, err := ParseS3URL(r.URL)
	if err != nil {
		return nil, err
	}
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	rangeHeader := r.Header.Get("Range")
	if rangeHeader != "" {
		input.Range = aws.String(rangeHeader)
	}
	out, err := t.client.GetObject(ctx, input)
	if err != nil {
		var re *awshttp.ResponseError
		if errors.As(err, &re) {
			return &Response{StatusCode: re.HTTPStatusCode(), Header: http.Header{}}, nil
		}
		return nil, fmt.Errorf("error getting object: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading object: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Length", strconv.Itoa(len(data)))
	status := http.StatusOK
	if rangeHeader != "" && out.ContentRange != nil {
		status = http.StatusPartialContent
		header.Set("Content-Range", aws.ToString(out.ContentRange))
	}
	if out.ETag != nil {
		header.Set("ETag", aws.ToString(out.ETag))
	}
	return &Response{StatusCode: status, Header: header, Body: data}, nil
}

func ParseS3URL(url string) (string, string, error) {
	if !strings.HasPrefix(url, "s3://") {
		return "", "", fmt.Errorf("invalid S3 URL format: %s", url)
	}
	url = strings.TrimPrefix(url, "s3://")
	parts := strings.SplitN(url, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid S3 URL format")
	}
	bucket := parts[0]
	key := ""
	if len(parts) > 1 {
		key = parts[1]
	}
	if key == "" {
		return "", "", fmt.Errorf("S3 URL has no object key")
	}
	return bucket, key, nil
}
