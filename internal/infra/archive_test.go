package infra

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"migration-service/internal/domain"
)

type fakeS3 struct {
	bucket      string
	key         string
	contentType string
	body        []byte
	err         error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = aws.ToString(params.Bucket)
	f.key = aws.ToString(params.Key)
	f.contentType = aws.ToString(params.ContentType)
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

type bufferWriter struct {
	bytes.Buffer
	closed   bool
	closeErr error
}

func (w *bufferWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func writeMigration(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestS3Archiver_Upload(t *testing.T) {
	p := writeMigration(t, "1738657155856-create-users.sql", "CREATE TABLE users (id INT);")
	client := &fakeS3{}
	a := newS3Archiver(client, domain.ArchiveConfig{Bucket: "archive"})

	require.NoError(t, a.Upload(context.Background(), "1738657155856-create-users.sql", p))

	assert.Equal(t, "archive", client.bucket)
	assert.Equal(t, "MigrationFile/1738657155856-create-users.sql", client.key)
	assert.Equal(t, "application/sql", client.contentType)
	assert.Equal(t, "CREATE TABLE users (id INT);", string(client.body))
}

func TestS3Archiver_UploadErrors(t *testing.T) {
	t.Run("put object fails", func(t *testing.T) {
		p := writeMigration(t, "100-a.sql", "x")
		a := newS3Archiver(&fakeS3{err: errors.New("AccessDenied")}, domain.ArchiveConfig{Bucket: "archive"})

		err := a.Upload(context.Background(), "100-a.sql", p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "s3://archive")
		assert.Contains(t, err.Error(), "AccessDenied")
	})

	t.Run("missing file", func(t *testing.T) {
		a := newS3Archiver(&fakeS3{}, domain.ArchiveConfig{Bucket: "archive"})
		err := a.Upload(context.Background(), "100-a.sql", filepath.Join(t.TempDir(), "100-a.sql"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestGCSArchiver_Upload(t *testing.T) {
	p := writeMigration(t, "200-add-index.sql", "CREATE INDEX idx ON users (id);")
	w := &bufferWriter{}
	var gotBucket, gotKey string
	a := &GCSArchiver{
		bucket:    "archive",
		keyPrefix: keyPrefixOrDefault("/history/"),
		newWriter: func(ctx context.Context, bucket, key string) io.WriteCloser {
			gotBucket, gotKey = bucket, key
			return w
		},
	}

	require.NoError(t, a.Upload(context.Background(), "200-add-index.sql", p))

	assert.Equal(t, "archive", gotBucket)
	assert.Equal(t, "history/200-add-index.sql", gotKey)
	assert.Equal(t, "CREATE INDEX idx ON users (id);", w.String())
	assert.True(t, w.closed)
	assert.NoError(t, a.Close())
}

func TestGCSArchiver_CloseError(t *testing.T) {
	p := writeMigration(t, "200-add-index.sql", "x")
	a := &GCSArchiver{
		bucket:    "archive",
		keyPrefix: defaultArchiveKeyPrefix,
		newWriter: func(ctx context.Context, bucket, key string) io.WriteCloser {
			return &bufferWriter{closeErr: errors.New("precondition failed")}
		},
	}

	err := a.Upload(context.Background(), "200-add-index.sql", p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gs://archive")
}

func TestNewArchiver(t *testing.T) {
	ctx := context.Background()

	a, err := NewArchiver(ctx, domain.ArchiveConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, a)

	_, err = NewArchiver(ctx, domain.ArchiveConfig{Enabled: true, Backend: "ftp"})
	assert.Error(t, err)

	a, err = NewArchiver(ctx, domain.ArchiveConfig{
		Enabled:   true,
		Backend:   "s3",
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "secret",
		Region:    "us-east-1",
		Bucket:    "archive",
		Endpoint:  "http://localhost:9000",
	})
	require.NoError(t, err)
	require.IsType(t, &S3Archiver{}, a)
	assert.Equal(t, "MigrationFile", a.(*S3Archiver).keyPrefix)
	assert.NoError(t, a.Close())
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/sql", contentTypeFor("1-a.SQL"))
	assert.Equal(t, "text/x-go", contentTypeFor("1-a.go"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("1-a.ts"))
}
