package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

type Config struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
	UsePathStyle  bool
	Prefix        string
}

// Store keeps generated media and uploaded inputs in an S3-compatible bucket
// and hands out public URLs for them.
type Store struct {
	cfg    Config
	base   string
	client *s3.Client
	now    func() time.Time
}

func NewStore(cfg Config) (*Store, error) {
	switch {
	case cfg.Bucket == "":
		return nil, fmt.Errorf("s3 bucket is required")
	case cfg.Region == "":
		return nil, fmt.Errorf("s3 region is required")
	case cfg.AccessKey == "" || cfg.SecretKey == "":
		return nil, fmt.Errorf("s3 credentials are required")
	case cfg.PublicBaseURL == "":
		return nil, fmt.Errorf("s3 public base url is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "lookstudio"
	}

	options := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &Store{
		cfg:    cfg,
		base:   strings.TrimRight(cfg.PublicBaseURL, "/"),
		client: s3.New(options),
		now:    time.Now,
	}, nil
}

// Put uploads data under <prefix>/<folder>/YYYY/MM/DD/<uuid><ext> and returns
// its public URL.
func (s *Store) Put(ctx context.Context, data []byte, contentType, folder string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("no data to upload")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := s.objectKey(folder, contentType)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}
	return s.base + "/" + key, nil
}

// Delete removes the object behind a URL returned by Put. URLs that do not
// belong to this store report false without an error.
func (s *Store) Delete(ctx context.Context, rawURL string) (bool, error) {
	key, ok := s.KeyFromURL(rawURL)
	if !ok {
		return false, nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, fmt.Errorf("delete from s3: %w", err)
	}
	return true, nil
}

// KeyFromURL maps a public URL back to its object key.
func (s *Store) KeyFromURL(rawURL string) (string, bool) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" || !strings.HasPrefix(rawURL, s.base+"/") {
		return "", false
	}
	key := strings.TrimPrefix(rawURL, s.base+"/")
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	prefix := strings.Trim(s.cfg.Prefix, "/") + "/"
	if key == "" || !strings.HasPrefix(key, prefix) || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}

func (s *Store) objectKey(folder, contentType string) string {
	now := s.now().UTC()
	return path.Join(
		strings.Trim(s.cfg.Prefix, "/"),
		strings.Trim(folder, "/"),
		fmt.Sprintf("%04d/%02d/%02d", now.Year(), now.Month(), now.Day()),
		uuid.NewString()+ExtensionFor(contentType),
	)
}

func ExtensionFor(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	default:
		return ".bin"
	}
}
