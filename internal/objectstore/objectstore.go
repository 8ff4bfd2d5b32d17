// Package objectstore wraps S3-compatible object storage for archived
// audio and segment JSON, plus the CDN Type-A signed-URL scheme used to
// hand out time-limited playback links.
//
// Construction follows the same NewFromConfig/BaseEndpoint/UsePathStyle
// dance for R2-style endpoints, with the same HeadBucket connectivity
// check at startup. Multipart upload goes through
// aws-sdk-go-v2/feature/s3/manager rather than a single PutObject, since
// archived audio files can exceed the single-request size that's
// comfortable to buffer in memory.
package objectstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"cobblepod/internal/idhash"
)

// multipartThreshold is the size above which uploads go through the
// manager.Uploader instead of a single PutObject
const multipartThreshold = 20 * 1024 * 1024

const (
	partSize       = 10 * 1024 * 1024
	maxUploadParts = 5
)

// Config configures the S3-compatible client.
type Config struct {
	Region      string
	Bucket      string
	AccessKey   string
	SecretKey   string
	EndpointURL string // set for R2/MinIO-style path-style endpoints
}

// Client is the archive-side object store used by the ingestion
// pipeline's Archive stage and read by the catalogue/entitlement HTTP
// API to mint signed playback URLs.
type Client struct {
	s3     *s3.Client
	upload *manager.Uploader
	bucket string
}

// New constructs a Client and verifies bucket reachability up front.
func New(ctx context.Context, cfg Config) (*Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
			config.WithRegion(cfg.Region),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %s: %w", cfg.Bucket, err)
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = maxUploadParts
	})

	slog.Info("object store client initialized", "bucket", cfg.Bucket, "endpoint", cfg.EndpointURL)
	return &Client{s3: client, upload: uploader, bucket: cfg.Bucket}, nil
}

// AudioKey returns the content-addressed key for an episode's archived
// audio file.1/4.5.
func AudioKey(channel string, timestampSec int64, episodeID, ext string) string {
	return fmt.Sprintf("audio/%s/%s/%s.%s", idhash.SafeChannel(channel), dayPath(timestampSec), episodeID, ext)
}

// SegmentsKey returns the content-addressed key for an episode's
// segment-JSON file.
func SegmentsKey(channel string, timestampSec int64, episodeID string) string {
	return fmt.Sprintf("segments/%s/%s/%s.json", idhash.SafeChannel(channel), dayPath(timestampSec), episodeID)
}

func dayPath(timestampSec int64) string {
	return time.Unix(timestampSec, 0).UTC().Format("2006-01-02")
}

// UploadFile archives the file at localPath under key, switching to a
// multipart upload above multipartThreshold.
func (c *Client) UploadFile(ctx context.Context, localPath, key, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	size := info.Size()

	if size > multipartThreshold {
		_, err := c.upload.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(c.bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return fmt.Errorf("multipart upload of %s failed: %w", key, err)
		}
		return nil
	}

	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload of %s failed: %w", key, err)
	}
	return nil
}

// UploadBytes archives an in-memory payload (typically segment JSON)
// under key.
func (c *Client) UploadBytes(ctx context.Context, data []byte, key, contentType string) error {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload of %s failed: %w", key, err)
	}
	return nil
}

// Exists reports whether key is present in the bucket.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(key)})
	if err != nil {
		if strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "404") {
			return false, nil
		}
		return false, fmt.Errorf("head object %s failed: %w", key, err)
	}
	return true, nil
}

// Signer mints CDN Type-A signed URLs
type Signer struct {
	BaseURL string
	AuthKey string
}

// SignedURL returns base + uri + "?sign=..." valid for expiresSeconds
// from now, following the CDN Type-A scheme:
// md5hash = MD5_hex(uri + "-" + t + "-" + rand + "-" + uid + "-" + K).
func (s *Signer) SignedURL(key string, expiresSeconds int64, now time.Time) (string, error) {
	uri := "/" + strings.TrimPrefix(key, "/")
	t := now.Unix() + expiresSeconds
	randStr, err := randomAlphanumeric(16)
	if err != nil {
		return "", fmt.Errorf("failed to generate signature nonce: %w", err)
	}
	const uid = "0"

	raw := fmt.Sprintf("%s-%d-%s-%s-%s", uri, t, randStr, uid, s.AuthKey)
	sum := md5.Sum([]byte(raw))
	sign := fmt.Sprintf("%d-%s-%s-%s", t, randStr, uid, hex.EncodeToString(sum[:]))

	return fmt.Sprintf("%s%s?sign=%s", strings.TrimRight(s.BaseURL, "/"), uri, sign), nil
}

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func randomAlphanumeric(n int) (string, error) {
	out := make([]byte, n)
	bound := big.NewInt(int64(len(alphanumeric)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, bound)
		if err != nil {
			return "", err
		}
		out[i] = alphanumeric[idx.Int64()]
	}
	return string(out), nil
}
