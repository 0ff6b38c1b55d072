package registry

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// load reads the backing document into memory, seeding an empty document
// on disk if none exists yet.
func (r *Registry) load() error {
	data, err := ioutil.ReadFile(r.path)
	if os.IsNotExist(err) {
		r.doc = document{
			Stores: make(map[string]*Store),
			Assets: make(map[string]assetRecord),
		}
		return errors.Wrap(r.save(), "seeding registry")
	}
	if err != nil {
		return errors.Wrap(err, "reading registry")
	}
	err = json.Unmarshal(data, &r.doc)
	if err != nil {
		return errors.Wrapf(err, "parsing registry %s", r.path)
	}
	// maps may be null in a hand-edited document
	if r.doc.Stores == nil {
		r.doc.Stores = make(map[string]*Store)
	}
	if r.doc.Assets == nil {
		r.doc.Assets = make(map[string]assetRecord)
	}
	return nil
}

// save rewrites the whole backing document. It writes to a temporary file
// in the same directory and renames it over the old document, so the file
// on disk is always either the previous or the new state, never a
// truncated mix. Callers must hold r.m.
func (r *Registry) save() error {
	data, err := json.MarshalIndent(r.doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding registry")
	}
	dir := filepath.Dir(r.path)
	tmp, err := ioutil.TempFile(dir, ".registry-")
	if err != nil {
		return errors.Wrap(err, "writing registry")
	}
	_, err = tmp.Write(data)
	if err2 := tmp.Close(); err == nil {
		err = err2
	}
	if err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "writing registry")
	}
	err = os.Rename(tmp.Name(), r.path)
	if err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "writing registry")
	}
	return nil
}
