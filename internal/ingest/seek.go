package ingest

import (
	"bytes"
	"io"

	"github.com/dreamware/kvfabric/internal/errkind"
)

// readAllSeekable buffers rc fully into memory and wraps it in a
// bytes.Reader, since blobstore.BlobStorageClient.GetReader only promises
// an io.ReadCloser (its zstd-decompressing implementation cannot seek)
// while delta.NewReader requires an io.ReadSeeker to resynchronize past
// corrupted regions and to seek back to its leading metadata header.
func readAllSeekable(rc io.ReadCloser) (io.ReadSeeker, error) {
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "buffer delta file")
	}
	return bytes.NewReader(data), nil
}
