/*
Package assets ingests archives of content-addressed asset files and
answers dedup queries about them.

An asset archive is a zip whose top-level directories are named by the
client-computed content hash of the asset they hold, with one file per
resolution variant inside. The archive is extracted into the asset root
as-is. The server trusts the client's hashes and never recomputes them;
once a hash directory is populated it is treated as immutable and is
never reread.
*/
package assets

import (
	"archive/zip"
	"io"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/hangarhq/hangar/registry"
	"github.com/hangarhq/hangar/util"
)

// An Engine extracts asset archives into the asset root and tracks which
// content hashes are known through the registry.
type Engine struct {
	Root     string             // the asset blob root directory
	TempDir  string             // where to spool uploaded archives. "" uses the default place
	Registry *registry.Registry

	gate util.Gate // bounds concurrent extractions
}

// MaxConcurrentExtractions limits how many asset archives may be unpacked
// at the same time. More will wait in a queue.
const MaxConcurrentExtractions = 4

// NewEngine returns an Engine extracting into root and recording hashes
// in r.
func NewEngine(root string, r *registry.Registry) *Engine {
	return &Engine{
		Root:     root,
		Registry: r,
		gate:     util.NewGate(MaxConcurrentExtractions),
	}
}

// IngestArchive spools the uploaded archive to a temporary file, extracts
// it into the asset root, and returns the content hashes it saw, in
// first-seen order. The caller is expected to record the returned hashes
// with the registry. The temporary archive is removed on every exit path,
// success or failure.
func (e *Engine) IngestArchive(archive io.Reader) ([]string, error) {
	e.gate.Enter()
	defer e.gate.Leave()

	tmp, err := ioutil.TempFile(e.TempDir, "assets-")
	if err != nil {
		return nil, errors.Wrap(err, "spooling asset archive")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	size, err := io.Copy(tmp, archive)
	if err != nil {
		return nil, errors.Wrap(err, "spooling asset archive")
	}
	z, err := zip.NewReader(tmp, size)
	if err != nil {
		return nil, errors.Wrap(err, "opening asset archive")
	}

	var hashes []string
	seen := make(map[string]bool)
	for _, f := range z.File {
		if f.FileInfo().IsDir() {
			continue
		}
		err = e.extract(f)
		if err != nil {
			return nil, err
		}
		// the immediate parent directory name is the content hash
		hash := path.Base(path.Dir(f.Name))
		if hash != "." && !seen[hash] {
			seen[hash] = true
			hashes = append(hashes, hash)
		}
	}
	return hashes, nil
}

// extract writes one archive entry under the asset root, preserving the
// archive's internal directory structure.
func (e *Engine) extract(f *zip.File) error {
	name := path.Clean(f.Name)
	if path.IsAbs(name) || strings.HasPrefix(name, "..") {
		return errors.Errorf("asset archive entry %q escapes the asset root", f.Name)
	}
	target := filepath.Join(e.Root, filepath.FromSlash(name))
	err := os.MkdirAll(filepath.Dir(target), 0775)
	if err != nil {
		return errors.Wrapf(err, "extracting %s", f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, "extracting %s", f.Name)
	}
	defer rc.Close()
	w, err := os.Create(target)
	if err != nil {
		return errors.Wrapf(err, "extracting %s", f.Name)
	}
	_, err = io.Copy(w, rc)
	err2 := w.Close()
	if err == nil {
		err = err2
	}
	return errors.Wrapf(err, "extracting %s", f.Name)
}

// Delta returns the subsequence of candidates, in input order, whose
// content hashes are not yet known. It is a pure function of the current
// known-hash set and never touches the filesystem. Upload clients use it
// to skip re-uploading assets the server already has.
func (e *Engine) Delta(candidates []string) []string {
	known := e.Registry.KnownAssets()
	result := []string{}
	for _, h := range candidates {
		if !known[h] {
			result = append(result, h)
		}
	}
	return result
}

// Open returns a reader for one asset file, looked up by its content hash
// and base file name, along with its size.
func (e *Engine) Open(hash, name string) (*os.File, int64, error) {
	f, err := os.Open(filepath.Join(e.Root, filepath.Base(hash), filepath.Base(name)))
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}
