package sink

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/slicedl/internal/utils"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func TestFileSinkWritesAndRenames(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "nested", "file.bin")
	fs := &FileSink{}

	got, err := fs.Write(context.Background(), out, []byte("first"))
	require.NoError(t, err)
	require.Equal(t, out, got)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "first", string(data))
	_, err = os.Stat(filepath.Join(dir, "nested", utils.TempDirName))
	require.True(t, os.IsNotExist(err), "temp dir removed")

	got, err = fs.Write(context.Background(), out, []byte("second"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "nested", "file-(1).bin"), got)

	fs.Overwrite = true
	got, err = fs.Write(context.Background(), out, []byte("third"))
	require.NoError(t, err)
	require.Equal(t, out, got)
	data, err = os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "third", string(data))
}

func TestFileSinkCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&FileSink{}).Write(ctx, filepath.Join(t.TempDir(), "x"), []byte("x"))
	require.ErrorIs(t, err, context.Canceled)
}

type fakeUploadClient struct {
	mu   sync.Mutex
	puts map[string][]byte
	fail error
}

func (f *fakeUploadClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeUploadClient) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("unexpected multipart upload")
}

func (f *fakeUploadClient) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("unexpected multipart upload")
}

func (f *fakeUploadClient) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("unexpected multipart upload")
}

func (f *fakeUploadClient) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func TestS3SinkUploads(t *testing.T) {
	client := &fakeUploadClient{}
	s := NewS3Sink(client, 0)
	got, err := s.Write(context.Background(), "s3://bucket/dir/obj.bin", []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, "s3://bucket/dir/obj.bin", got)
	require.Equal(t, []byte("payload"), client.puts["bucket/dir/obj.bin"])

	_, err = s.Write(context.Background(), "s3://bucket", []byte("x"))
	require.Error(t, err)

	client.fail = errors.New("denied")
	_, err = s.Write(context.Background(), "s3://bucket/k", []byte("x"))
	require.ErrorContains(t, err, "denied")
}

type recordingSink struct{ dests []string }

func (r *recordingSink) Write(_ context.Context, dest string, _ []byte) (string, error) {
	r.dests = append(r.dests, dest)
	return dest, nil
}

func TestRouter(t *testing.T) {
	file, s3s := &recordingSink{}, &recordingSink{}
	r := &Router{File: file, S3: s3s}
	_, err := r.Write(context.Background(), "s3://b/k", nil)
	require.NoError(t, err)
	_, err = r.Write(context.Background(), "out/file", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"s3://b/k"}, s3s.dests)
	require.Equal(t, []string{"out/file"}, file.dests)

	_, err = (&Router{File: file}).Write(context.Background(), "s3://b/k", nil)
	require.Error(t, err)
}
