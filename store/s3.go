package store

import (
	"io"
	"io/ioutil"
	"log"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	raven "github.com/getsentry/raven-go"
)

// A S3 store keeps blobs in an S3 bucket. Do not change Bucket or Prefix
// concurrently with calls using the structure.
//
// Bundles and source maps are at most tens of megabytes, so uploads are
// spooled through a temporary file and sent with a single PutObject, and
// downloads are spooled the same way. There is no multipart handling.
type S3 struct {
	svc     *s3.S3
	Bucket  string
	Prefix  string
	TempDir string // where to make temp files. "" uses the default place
}

var (
	_ Store = &S3{}
)

// NewS3 creates a new S3 store. It will use the given bucket and will
// prepend prefix to all keys. This is to allow one bucket to be used for
// more than one blob root. The authorization method and credentials in the
// session are used for all accesses.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return &S3{
		Bucket: bucket,
		Prefix: prefix,
		svc:    s3.New(awsSession),
	}
}

// List returns a channel giving every key in this store. Only keys
// satisfying the store's Prefix are returned, so it is safe to use this on
// a bucket containing other blob roots.
func (s *S3) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(s.Bucket),
			Prefix: aws.String(s.Prefix),
		}
		err := s.svc.ListObjectsV2Pages(input,
			func(page *s3.ListObjectsV2Output, lastpage bool) bool {
				for _, item := range page.Contents {
					out <- strings.TrimPrefix(*item.Key, s.Prefix)
				}
				return !lastpage
			})
		if err != nil {
			log.Println("S3 List:", s.Prefix, err)
			raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix})
		}
	}()
	return out
}

// Open will return a ReadAtCloser to get the content for the given key.
// The entire object is downloaded to a temporary file first. The file is
// removed when the returned ReadAtCloser is closed.
func (s *S3) Open(key string) (ReadAtCloser, int64, error) {
	size, err := s.stat(key)
	if err != nil {
		return nil, 0, err
	}
	output, err := s.svc.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		return nil, 0, err
	}
	defer output.Body.Close()
	f, err := ioutil.TempFile(s.TempDir, "s3-download-")
	if err != nil {
		return nil, 0, err
	}
	result := &tempFileReadAtCloser{f}
	_, err = io.Copy(f, output.Body)
	if err != nil {
		result.Close() // this will remove the temp file
		return nil, 0, err
	}
	return result, size, nil
}

// Create will return a WriteCloser to upload content to the given key. Data
// is spooled into a temporary file and then uploaded when Close() is called.
func (s *S3) Create(key string) (io.WriteCloser, error) {
	// does the key already exist?
	_, err := s.stat(key)
	if err == nil {
		return nil, ErrKeyExists
	}
	f, err := ioutil.TempFile(s.TempDir, "s3-upload-")
	if err != nil {
		return nil, err
	}
	return &s3WriteCloser{
		svc:      s.svc,
		bucket:   s.Bucket,
		key:      s.Prefix + key,
		tempfile: f,
	}, nil
}

// Delete will remove the given key from the store. The store's Prefix is
// prepended first. It is not an error to delete something that doesn't exist.
func (s *S3) Delete(key string) error {
	_, err := s.svc.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		log.Println("S3 Delete:", s.Prefix, key, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Key": key})
	}
	return err
}

// stat does a HEAD request for the key and returns the size. If the object
// does not exist an error is returned.
func (s *S3) stat(key string) (int64, error) {
	info, err := s.svc.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		return 0, err
	}
	return *info.ContentLength, nil
}

// tempFileReadAtCloser wraps a file so that the file is deleted when it is
// closed.
type tempFileReadAtCloser struct {
	*os.File
}

func (tf *tempFileReadAtCloser) Close() error {
	name := tf.File.Name()
	err := tf.File.Close()
	err2 := os.Remove(name)
	if err == nil {
		err = err2
	}
	return err
}

// s3WriteCloser spools writes into a temporary file and does a single
// PutObject when closed. The temporary file is always removed.
type s3WriteCloser struct {
	svc      *s3.S3
	bucket   string
	key      string
	tempfile *os.File
}

func (wc *s3WriteCloser) Write(p []byte) (int, error) {
	return wc.tempfile.Write(p)
}

func (wc *s3WriteCloser) Close() error {
	defer func() {
		name := wc.tempfile.Name()
		wc.tempfile.Close()
		os.Remove(name)
	}()
	_, err := wc.tempfile.Seek(0, io.SeekStart)
	if err != nil {
		return err
	}
	fi, err := wc.tempfile.Stat()
	if err != nil {
		return err
	}
	_, err = wc.svc.PutObject(&s3.PutObjectInput{
		Body:          wc.tempfile,
		Bucket:        aws.String(wc.bucket),
		Key:           aws.String(wc.key),
		ContentLength: aws.Int64(fi.Size()),
	})
	if err != nil {
		log.Println("S3 upload:", wc.key, err)
		raven.CaptureError(err, map[string]string{"Bucket": wc.bucket, "Key": wc.key})
	}
	return err
}

// IsNotExist reports whether an error from stat or Open means the key is
// absent, as opposed to some other S3 failure.
func IsNotExist(err error) bool {
	if e, ok := err.(awserr.RequestFailure); ok {
		return e.StatusCode() == 404
	}
	return os.IsNotExist(err)
}
