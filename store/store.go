// Package store provides a simple, goroutine safe key-value interface where
// values are streams instead of opaque byte slices. This approach lets large
// application bundles be stored and served without buffering them in memory.
//
// The FileSystem store is the usual implementation. The Memory store is for
// testing, and the S3 store keeps blobs in an S3 bucket.
package store

import (
	"io"
)

// ReadAtCloser combines the io.ReaderAt and io.Closer interfaces.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Store defines the basic stream based key-value store backing a blob
// directory. Blobs are immutable once stored, but they may be deleted.
//
// Since the FileSystem store uses keys as file names, keys should not
// contain forbidden filesystem characters, such as '/'.
type Store interface {
	// List returns a channel giving the key of every blob in the store.
	List() <-chan string
	// Open returns a reader for the given blob along with its size.
	Open(key string) (ReadAtCloser, int64, error)
	// Create makes a new blob with the given key and returns a writer to
	// save data into it. The blob is not visible until the writer is closed.
	Create(key string) (io.WriteCloser, error)
	// Delete removes the given key from the store. It is not an error to
	// delete a key which does not exist.
	Delete(key string) error
}

// NewReader converts a ReaderAt into an io.Reader. It is here as a utility
// to help work with the ReadAtCloser returned by Open.
func NewReader(r io.ReaderAt) io.Reader {
	return &reader{r: r}
}

type reader struct {
	r   io.ReaderAt
	off int64
}

func (r *reader) Read(p []byte) (n int, err error) {
	n, err = r.r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		// reading less than a full buffer is not an error for
		// an io.Reader
		err = nil
	}
	return
}
