package infra

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/option"

	"migration-service/internal/domain"
)

const defaultArchiveKeyPrefix = "MigrationFile"

// Archiver は適用済みマイグレーションファイルのアップロード先。
type Archiver interface {
	Upload(ctx context.Context, fileName, absPath string) error
	Close() error
}

// s3PutObjectAPI はアップロードに必要なS3 APIの最小セット。
type s3PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver はマイグレーションファイルをS3へアップロードする。
type S3Archiver struct {
	client    s3PutObjectAPI
	bucket    string
	keyPrefix string
}

// NewS3Archiver は設定からS3Archiverを生成する。
// AccessKeyが空の場合はAWSのデフォルト認証チェーンを使う。
func NewS3Archiver(ctx context.Context, cfg domain.ArchiveConfig) (*S3Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		// MinIOやLocalStackはパス形式でアクセスする
		ep := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &ep
			o.UsePathStyle = true
		})
	}

	return newS3Archiver(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

func newS3Archiver(client s3PutObjectAPI, cfg domain.ArchiveConfig) *S3Archiver {
	return &S3Archiver{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: keyPrefixOrDefault(cfg.KeyPrefix),
	}
}

// Upload はファイルを<keyPrefix>/<fileName>としてアップロードする。
func (a *S3Archiver) Upload(ctx context.Context, fileName, absPath string) error {
	f, err := os.Open(absPath)
	if err != nil {
		return fmt.Errorf("opening migration file: %w", err)
	}
	defer f.Close()

	key := objectKey(a.keyPrefix, fileName)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentTypeFor(fileName)),
	})
	if err != nil {
		return fmt.Errorf("uploading %s to s3://%s: %w", key, a.bucket, err)
	}

	slog.DebugContext(ctx, "migration file uploaded", "backend", "s3", "bucket", a.bucket, "key", key)
	return nil
}

// Close は何もしない。S3クライアントは閉じる必要がない。
func (a *S3Archiver) Close() error {
	return nil
}

// gcsWriterFactory はオブジェクトへのWriterを生成する。テストで差し替える。
type gcsWriterFactory func(ctx context.Context, bucket, key string) io.WriteCloser

// GCSArchiver はマイグレーションファイルをCloud Storageへアップロードする。
type GCSArchiver struct {
	client    *storage.Client
	newWriter gcsWriterFactory
	bucket    string
	keyPrefix string
}

// NewGCSArchiver は設定からGCSArchiverを生成する。
// Endpointを指定した場合はエミュレータ向けに認証を省略する。
func NewGCSArchiver(ctx context.Context, cfg domain.ArchiveConfig) (*GCSArchiver, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	a := &GCSArchiver{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: keyPrefixOrDefault(cfg.KeyPrefix),
	}
	a.newWriter = func(ctx context.Context, bucket, key string) io.WriteCloser {
		w := client.Bucket(bucket).Object(key).NewWriter(ctx)
		w.ContentType = contentTypeFor(key)
		return w
	}
	return a, nil
}

// Upload はファイルを<keyPrefix>/<fileName>としてアップロードする。
func (a *GCSArchiver) Upload(ctx context.Context, fileName, absPath string) error {
	f, err := os.Open(absPath)
	if err != nil {
		return fmt.Errorf("opening migration file: %w", err)
	}
	defer f.Close()

	key := objectKey(a.keyPrefix, fileName)
	w := a.newWriter(ctx, a.bucket, key)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("uploading %s to gs://%s: %w", key, a.bucket, err)
	}
	// Closeで書き込みが確定する
	if err := w.Close(); err != nil {
		return fmt.Errorf("uploading %s to gs://%s: %w", key, a.bucket, err)
	}

	slog.DebugContext(ctx, "migration file uploaded", "backend", "gcs", "bucket", a.bucket, "key", key)
	return nil
}

// Close はGCSクライアントを閉じる。
func (a *GCSArchiver) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

// NewArchiver はcfg.Backendに応じたアーカイバを生成する。無効の場合はnilを返す。
func NewArchiver(ctx context.Context, cfg domain.ArchiveConfig) (Archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch strings.ToLower(cfg.Backend) {
	case "", "s3":
		a, err := NewS3Archiver(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "gcs":
		a, err := NewGCSArchiver(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unsupported archive backend: %s", cfg.Backend)
	}
}

func keyPrefixOrDefault(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return defaultArchiveKeyPrefix
	}
	return prefix
}

func objectKey(prefix, fileName string) string {
	return path.Join(prefix, fileName)
}

func contentTypeFor(fileName string) string {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".sql":
		return "application/sql"
	case ".go":
		return "text/x-go"
	default:
		return "application/octet-stream"
	}
}
