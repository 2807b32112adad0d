package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
// An existing object is not an error: reruns of the same job produce the same output.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName string, content []byte, contentType string) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping write.", "gcsObject", objectName)
			return nil
		}
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping write.", "gcsObject", objectName)
			return nil
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// ReadObject downloads an object, refusing anything larger than maxBytes.
func ReadObject(ctx context.Context, client *storage.Client, bucket, object string, maxBytes int64) ([]byte, error) {
	reader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer reader.Close()

	if maxBytes > 0 && reader.Attrs.Size > maxBytes {
		return nil, &TooLargeError{Object: object, Size: reader.Attrs.Size, Limit: maxBytes}
	}
	var src io.Reader = reader
	if maxBytes > 0 {
		src = io.LimitReader(reader, maxBytes+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", bucket, object, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, &TooLargeError{Object: object, Size: int64(len(data)), Limit: maxBytes}
	}
	return data, nil
}

// TooLargeError reports an object over a size limit.
type TooLargeError struct {
	Object string
	Size   int64
	Limit  int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("object %s is %d bytes, over the %d byte limit", e.Object, e.Size, e.Limit)
}

// ParseGCSURI splits "gs://bucket/path/to/object" into bucket and object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("invalid GCS URI %q: missing gs:// scheme", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("invalid GCS URI %q: want gs://bucket/object", uri)
	}
	return bucket, object, nil
}

// ListObjects returns the names of all objects under prefix with the given
// suffix, sorted by name.
func ListObjects(ctx context.Context, client *storage.Client, bucket, prefix, suffix string) ([]string, error) {
	it := client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s: %w", bucket, prefix, err)
		}
		if strings.HasSuffix(strings.ToLower(attrs.Name), suffix) {
			names = append(names, attrs.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}
