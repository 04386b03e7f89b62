package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config 描述 S3 兼容对象存储的连接参数。
type S3Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

func (c S3Config) validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	return nil
}

// S3Vault 使用 minio-go 访问 S3 兼容存储，对象键为 prefix/path。
type S3Vault struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Vault 构建 S3 vault；仅创建客户端，不主动探测连通性。
func NewS3Vault(cfg S3Config) (*S3Vault, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid s3 config: %w", err)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &S3Vault{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *S3Vault) key(path string) string {
	path = strings.TrimPrefix(path, "/")
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

func (s *S3Vault) Read(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(path), minio.GetObjectOptions{})
	if err != nil {
		return nil, translateS3Error(err)
	}
	defer func() {
		_ = obj.Close()
	}()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateS3Error(err)
	}
	return data, nil
}

func (s *S3Vault) Write(ctx context.Context, path string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(path), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return translateS3Error(err)
	}
	return nil
}

func (s *S3Vault) Delete(ctx context.Context, path string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(path), minio.RemoveObjectOptions{})
	if err != nil {
		if translated := translateS3Error(err); errors.Is(translated, ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func translateS3Error(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey":
		return ErrNotFound
	default:
		return err
	}
}
