// Package blobstore abstracts the object store that delta files and UDF
// artifacts are read from (spec §1 "out of scope: the object store itself
// — kvfabric only reads from it"). BlobStorageClient is the seam kvfabric
// calls through; LocalFSClient is the reference implementation used by
// tests and single-node deployments.
package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/dreamware/kvfabric/internal/errkind"
)

// BlobStorageClient defines the interface for reading delta files and UDF
// artifacts. All implementations must be safe for concurrent use, mirroring
// torua's Store contract for its in-memory key-value backend.
type BlobStorageClient interface {
	// GetReader opens path for reading. Callers must Close the returned
	// reader. Returns a NotFound-kind error if path does not exist.
	GetReader(ctx context.Context, path string) (io.ReadCloser, error)

	// Put writes the full contents of r to path, overwriting any existing
	// object. Used by tests to seed fixtures; production kvfabric never
	// writes delta files back to the store.
	Put(ctx context.Context, path string, r io.Reader) error

	// Delete removes path. No error if path does not exist.
	Delete(ctx context.Context, path string) error

	// List returns every object path under prefix, sorted lexically.
	List(ctx context.Context, prefix string) ([]string, error)
}

// LocalFSClient implements BlobStorageClient rooted at a local directory.
// Objects whose path ends in ".zst" are transparently zstd-decompressed on
// read, matching how a real delta pipeline compresses files for network
// transport independently of the per-record snappy compression used inside
// the delta framing itself.
type LocalFSClient struct {
	root string
}

// NewLocalFSClient roots a client at dir. dir must already exist.
func NewLocalFSClient(dir string) *LocalFSClient {
	return &LocalFSClient{root: dir}
}

// resolve joins path onto the store root. Prepending "/" before Clean
// forces any ".." components to collapse against a synthetic root rather
// than escaping c.root on disk.
func (c *LocalFSClient) resolve(path string) string {
	clean := filepath.Clean("/" + path)
	return filepath.Join(c.root, clean)
}

func (c *LocalFSClient) GetReader(ctx context.Context, path string) (io.ReadCloser, error) {
	full := c.resolve(path)
	f, err := os.Open(full)
	if os.IsNotExist(err) {
		return nil, errkind.NotFoundf("blobstore: object %q not found", path)
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "open blob")
	}
	if !strings.HasSuffix(path, ".zst") {
		return f, nil
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errkind.Wrap(errkind.Internal, err, "open zstd blob")
	}
	return &zstdReadCloser{zr: zr, f: f}, nil
}

type zstdReadCloser struct {
	zr *zstd.Decoder
	f  *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.zr.Read(p) }

func (z *zstdReadCloser) Close() error {
	z.zr.Close()
	return z.f.Close()
}

func (c *LocalFSClient) Put(ctx context.Context, path string, r io.Reader) error {
	full := c.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errkind.Wrap(errkind.Internal, err, "create blob directory")
	}
	f, err := os.Create(full)
	if err != nil {
		return errkind.Wrap(errkind.Internal, err, "create blob")
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return errkind.Wrap(errkind.Internal, err, "write blob")
	}
	return nil
}

func (c *LocalFSClient) Delete(ctx context.Context, path string) error {
	full := c.resolve(path)
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return errkind.Wrap(errkind.Internal, err, "delete blob")
	}
	return nil
}

func (c *LocalFSClient) List(ctx context.Context, prefix string) ([]string, error) {
	base := c.resolve(prefix)
	if strings.HasSuffix(prefix, "/") && !strings.HasSuffix(base, string(filepath.Separator)) {
		// keep "shards/1/" from also matching "shards/10/..."
		base += string(filepath.Separator)
	}
	var out []string
	root := filepath.Dir(base)
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !strings.HasPrefix(p, base) {
			return nil
		}
		rel, relErr := filepath.Rel(c.root, p)
		if relErr != nil {
			return relErr
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "list blobs")
	}
	sort.Strings(out)
	return out, nil
}
