package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client is the part of *s3.Client used for s3:// sources.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// StatusError is returned for a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("get %s: http %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("get %s: http %d: %s", e.URL, e.StatusCode, e.Body)
}

// Fetcher downloads one source per call. It never retries and never removes a
// partially written destination.
type Fetcher struct {
	http *http.Client
	s3   S3Client
}

// New returns a Fetcher. A nil httpClient means http.DefaultClient, so there is
// no timeout beyond the transport's own. s3c may be nil when no s3:// source is used.
func New(httpClient *http.Client, s3c S3Client) *Fetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Fetcher{http: httpClient, s3: s3c}
}

// Download writes the content at rawURL to dst, replacing any existing file, and
// returns the number of bytes written. The parent directory of dst must exist.
func (f *Fetcher) Download(ctx context.Context, rawURL, dst string) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("parse source url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return f.downloadHTTP(ctx, rawURL, dst)
	case "s3":
		return f.downloadS3(ctx, u, dst)
	default:
		return 0, fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}
}

func (f *Fetcher) downloadHTTP(ctx context.Context, rawURL, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	res, err := f.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer res.Body.Close()

	// status is checked before dst is touched
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return 0, &StatusError{URL: rawURL, StatusCode: res.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	return writeFile(dst, res.Body)
}

func (f *Fetcher) downloadS3(ctx context.Context, u *url.URL, dst string) (int64, error) {
	if f.s3 == nil {
		return 0, fmt.Errorf("s3 source %s: no s3 client configured", u.String())
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return 0, fmt.Errorf("s3 source %s: want s3://bucket/key", u.String())
	}

	out, err := f.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("s3 getobject %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	return writeFile(dst, out.Body)
}

func writeFile(dst string, r io.Reader) (int64, error) {
	fh, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", dst, err)
	}

	n, err := io.Copy(fh, r)
	if err != nil {
		_ = fh.Close()
		return n, fmt.Errorf("write %s: %w", dst, err)
	}
	if err := fh.Close(); err != nil {
		return n, fmt.Errorf("close %s: %w", dst, err)
	}
	return n, nil
}
