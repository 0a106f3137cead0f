// Package storage keeps uploaded files on local disk and hands out public
// URLs the portal serves under /files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Buckets used by the portal
const (
	BucketSubmissions  = "submissions"
	BucketCertificates = "certificates"
)

// PublicPrefix is the URL prefix files are served under
const PublicPrefix = "/files"

var ErrInvalidPath = errors.New("invalid storage path")

// FileStore stores objects as files below Root
type FileStore struct {
	Root    string
	BaseURL string
	logger  zerolog.Logger
}

// NewFileStore creates the root directory if needed
func NewFileStore(root, baseURL string, logger zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FileStore{
		Root:    root,
		BaseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With().Str("component", "storage").Logger(),
	}, nil
}

// Upload writes r to bucket/name and returns the stored object path
func (s *FileStore) Upload(ctx context.Context, bucket, name string, r io.Reader) (string, error) {
	objectPath, err := clean(bucket, name)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(s.Root, filepath.FromSlash(objectPath))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create bucket directory: %w", err)
	}

	tmp := dest + ".tmp-" + ulid.Make().String()
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(f, &ctxReader{ctx: ctx, r: r}); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to store file: %w", err)
	}

	s.logger.Debug().Str("object", objectPath).Msg("Stored upload")
	return objectPath, nil
}

// Remove deletes a stored object. Missing objects are not an error.
func (s *FileStore) Remove(objectPath string) error {
	bucket, name, ok := strings.Cut(objectPath, "/")
	if !ok {
		return ErrInvalidPath
	}
	cleaned, err := clean(bucket, name)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.Root, filepath.FromSlash(cleaned))); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

// PublicURL returns the URL a stored object is served at
func (s *FileStore) PublicURL(bucket, name string) string {
	escaped := make([]string, 0, 4)
	for _, part := range strings.Split(path.Join(bucket, name), "/") {
		escaped = append(escaped, url.PathEscape(part))
	}
	return s.BaseURL + PublicPrefix + "/" + strings.Join(escaped, "/")
}

// ObjectName builds a unique object name below owner, keeping the upload's
// extension.
func ObjectName(owner, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return owner + "/" + ulid.Make().String() + ext
}

func clean(bucket, name string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", fmt.Errorf("%w: bucket %q", ErrInvalidPath, bucket)
	}
	if name == "" || strings.Contains(name, `\`) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
		}
	}
	return bucket + "/" + name, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
