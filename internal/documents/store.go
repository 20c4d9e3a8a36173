package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/merchant-insights/internal/logger"
)

const gcsScheme = "gs://"

const uploadTimeout = 2 * time.Minute

// ErrNoStorageClient is returned for gs:// references when the store was
// built without a storage client.
var ErrNoStorageClient = errors.New("no storage client configured for gs:// references")

// ErrInvalidURI is returned for malformed gs:// references.
var ErrInvalidURI = errors.New("invalid GCS URI")

// ErrOutsideUploadDir is returned for local references that are absolute or
// climb out of the store's local root.
var ErrOutsideUploadDir = errors.New("document path escapes upload directory")

// Store reads statement documents from local paths or Google Cloud Storage
// and uploads local files to a bucket.
type Store struct {
	client    *storage.Client
	localRoot string
}

// NewStore creates a Store. client may be nil, in which case only local
// paths can be fetched.
func NewStore(client *storage.Client) *Store {
	return &Store{client: client}
}

// WithLocalRoot confines local references to dir. Refs are then resolved
// relative to dir and may not leave it, even through symlinks.
func (s *Store) WithLocalRoot(dir string) *Store {
	s.localRoot = dir
	return s
}

// LocalRoot returns the directory local references are confined to, or ""
// when any path can be read.
func (s *Store) LocalRoot() string {
	return s.localRoot
}

// IsGCSURI reports whether ref points into a bucket.
func IsGCSURI(ref string) bool {
	return strings.HasPrefix(ref, gcsScheme)
}

// ParseGCSURI splits gs://bucket/path/to/object into bucket and object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !IsGCSURI(uri) {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURI, uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, gcsScheme), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w (no object path): %s", ErrInvalidURI, uri)
	}
	return parts[0], parts[1], nil
}

// GCSURI builds the gs:// reference for an object.
func GCSURI(bucket, object string) string {
	return gcsScheme + bucket + "/" + object
}

// FilenameFromRef returns the last path element of a local path or GCS URI.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func FilenameFromRef(ref string) string {
	if IsGCSURI(ref) {
		parts := strings.SplitN(strings.TrimPrefix(ref, gcsScheme), "/", 2)
		if len(parts) < 2 {
			return parts[0]
		}
		return path.Base(parts[1])
	}
	return path.Base(strings.ReplaceAll(ref, `\`, "/"))
}

// Fetch returns the bytes of the document at ref.
func (s *Store) Fetch(ctx context.Context, ref string) ([]byte, error) {
	log := logger.FromContext(ctx)

	if !IsGCSURI(ref) {
		data, err := s.readLocal(ref)
		if err != nil {
			return nil, fmt.Errorf("Fetch: reading %q: %w", ref, err)
		}
		log.Debug().Str("document", ref).Int("bytes", len(data)).Msg("read local document")
		return data, nil
	}

	bucket, object, err := ParseGCSURI(ref)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}
	if s.client == nil {
		return nil, fmt.Errorf("Fetch: %w", ErrNoStorageClient)
	}

	rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading bytes: %w", err)
	}

	log.Debug().Str("document", ref).Int("bytes", len(data)).Msg("downloaded document")
	return data, nil
}

func (s *Store) readLocal(ref string) ([]byte, error) {
	if s.localRoot == "" {
		return os.ReadFile(ref)
	}
	if !filepath.IsLocal(ref) {
		return nil, ErrOutsideUploadDir
	}

	root, err := os.OpenRoot(s.localRoot)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	f, err := root.Open(ref)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// UploadFile copies a local file to bucket/object and returns its gs:// URI.
func (s *Store) UploadFile(ctx context.Context, bucket, object, filePath string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("UploadFile: %w", ErrNoStorageClient)
	}

	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("UploadFile: open file %q: %w", filePath, err)
	}
	defer f.Close()

	return s.upload(ctx, bucket, object, f)
}

// UploadBytes writes data to bucket/object and returns its gs:// URI.
func (s *Store) UploadBytes(ctx context.Context, bucket, object string, data []byte) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("UploadBytes: %w", ErrNoStorageClient)
	}
	return s.upload(ctx, bucket, object, bytes.NewReader(data))
}

func (s *Store) upload(ctx context.Context, bucket, object string, r io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload: copy to GCS writer: %w", err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload: finalize: %w", err)
	}

	uri := GCSURI(bucket, object)
	log := logger.FromContext(ctx)
	log.Info().Str("document", uri).Msg("uploaded document")
	return uri, nil
}
