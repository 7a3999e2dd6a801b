package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Archiver takes ownership of a rotated packet log.
type Archiver interface {
	Archive(ctx context.Context, path string) error
}

// Uploader stores a local file remotely.
type Uploader interface {
	Upload(ctx context.Context, path string) error
}

// Archive compresses rotated logs and optionally uploads them.
type Archive struct {
	Compress bool
	Uploader Uploader
	// RemoveUploaded deletes the local file after a successful upload.
	RemoveUploaded bool

	logger zerolog.Logger
}

func NewArchive(compress bool, up Uploader, removeUploaded bool) *Archive {
	return &Archive{
		Compress:       compress,
		Uploader:       up,
		RemoveUploaded: removeUploaded,
		logger:         log.With().Str("component", "archive").Logger(),
	}
}

func (a *Archive) Archive(ctx context.Context, p string) error {
	if a.Compress {
		zp, err := CompressFile(p)
		if err != nil {
			return err
		}
		p = zp
	}
	if a.Uploader == nil {
		return nil
	}
	if err := a.Uploader.Upload(ctx, p); err != nil {
		return fmt.Errorf("upload %s: %w", filepath.Base(p), err)
	}
	a.logger.Info().Str("file", filepath.Base(p)).Msg("Packet log archived")
	if a.RemoveUploaded {
		return os.Remove(p)
	}
	return nil
}

// CompressFile writes p.zst and removes p.
func CompressFile(p string) (string, error) {
	in, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out := p + ".zst"
	f, err := os.Create(out)
	if err != nil {
		return "", err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		f.Close()
		return "", err
	}
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		f.Close()
		return "", fmt.Errorf("compress %s: %w", filepath.Base(p), err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	in.Close()
	return out, os.Remove(p)
}

// OpenLog opens a packet log for reading, decompressing .zst files.
func OpenLog(p string) (io.ReadCloser, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(p) != ".zst" {
		return f, nil
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &zstdFile{Decoder: zr, f: f}, nil
}

type zstdFile struct {
	*zstd.Decoder
	f *os.File
}

func (z *zstdFile) Close() error {
	z.Decoder.Close()
	return z.f.Close()
}

// S3Config locates the archive bucket. Endpoint is set for S3 compatible
// stores.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Uploader puts packet logs into a bucket under Prefix.
type S3Uploader struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	opts := s3.Options{Region: cfg.Region}
	if cfg.AccessKey != "" {
		creds := aws.Credentials{AccessKeyID: cfg.AccessKey, SecretAccessKey: cfg.SecretKey, Source: "raidscope"}
		opts.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) { return creds, nil }))
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return &S3Uploader{client: s3.New(opts), bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Key is the object key of a local file.
func (u *S3Uploader) Key(p string) string {
	return path.Join(u.prefix, filepath.Base(p))
}

func (u *S3Uploader) Upload(ctx context.Context, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	contentType := "application/x-ndjson"
	if filepath.Ext(p) == ".zst" {
		contentType = "application/zstd"
	}
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(u.Key(p)),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 put: %w", err)
	}
	return nil
}
