package adapter

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
)

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = goerr.New("object not found")

// Storage persists transaction files and documents written by agents.
type Storage interface {
	// Put returns a writer; the object becomes visible when the writer is
	// closed without error.
	Put(ctx context.Context, key string) (io.WriteCloser, error)
	// Get opens an object for reading. Missing keys yield ErrObjectNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// storageClient implements Storage using Cloud Storage
type storageClient struct {
	bucketName string
	prefix     string
	client     *storage.Client
}

// NewStorage creates a Cloud Storage backed Storage. All keys are placed
// under prefix, which may be empty.
func NewStorage(ctx context.Context, bucketName, prefix string) (Storage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &storageClient{
		bucketName: bucketName,
		prefix:     prefix,
		client:     client,
	}, nil
}

func (s *storageClient) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucketName).Object(s.prefix + key)
}

func (s *storageClient) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	writer := s.object(key).NewWriter(ctx)
	writer.ContentType = "application/json"
	return writer, nil
}

func (s *storageClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := s.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, goerr.Wrap(ErrObjectNotFound, "object does not exist",
				goerr.V("bucket", s.bucketName), goerr.V("key", key))
		}
		return nil, goerr.Wrap(err, "failed to read from storage",
			goerr.V("bucket", s.bucketName), goerr.V("key", key))
	}

	return reader, nil
}

// fileStorage implements Storage on a local directory.
type fileStorage struct {
	root string
}

// NewFileStorage creates a Storage rooted at dir. The directory is created
// if needed.
func NewFileStorage(dir string) (Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create storage directory", goerr.V("dir", dir))
	}
	return &fileStorage{root: dir}, nil
}

func (s *fileStorage) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *fileStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create directory", goerr.V("key", key))
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-"+filepath.Base(dst)+"-*")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create temp file", goerr.V("key", key))
	}
	return &atomicFile{File: tmp, dst: dst}, nil
}

func (s *fileStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, goerr.Wrap(ErrObjectNotFound, "file does not exist", goerr.V("key", key))
		}
		return nil, goerr.Wrap(err, "failed to open file", goerr.V("key", key))
	}
	return f, nil
}

// atomicFile renames the temp file over the destination on Close so readers
// never observe a partially written object.
type atomicFile struct {
	*os.File
	dst string
}

func (f *atomicFile) Close() error {
	if err := f.File.Close(); err != nil {
		_ = os.Remove(f.Name())
		return goerr.Wrap(err, "failed to close temp file", goerr.V("path", f.Name()))
	}
	if err := os.Rename(f.Name(), f.dst); err != nil {
		_ = os.Remove(f.Name())
		return goerr.Wrap(err, "failed to replace file", goerr.V("path", f.dst))
	}
	return nil
}
