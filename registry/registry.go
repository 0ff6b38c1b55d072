/*
Package registry keeps the metadata document for the depot: which stores
exist, which bundles belong to each store and in what order, and which
asset content hashes have already been uploaded.

The whole document is one JSON file. Every mutation rewrites the file
before returning, by writing to a temporary file in the same directory and
renaming it over the old document, so a crash can never leave a truncated
document behind. A single mutex serializes every read-modify-write cycle;
the persistence contract has no finer-grained locking, so the mutex is the
only thing standing between two concurrent mutations and a lost update.
*/
package registry

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Platforms is the closed set of platform tags a bundle may carry.
var Platforms = []string{"android", "ios"}

// ValidPlatform reports whether p is one of the known platform tags.
func ValidPlatform(p string) bool {
	for _, q := range Platforms {
		if p == q {
			return true
		}
	}
	return false
}

// A Bundle is one platform-specific built application package. The ID and
// SourceMap fields key blobs in the bundle and source-map blob roots.
// Bundle IDs are never reused.
type Bundle struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	SourceMap string    `json:"sourceMap"`
	CreatedAt time.Time `json:"createdAt"`
}

// A Store is one named collection of bundles with its own access token.
// The bundle list is kept in insertion order and is never re-sorted; the
// order is what defines "latest" and which bundle is evicted first.
type Store struct {
	ID      string   `json:"id"`
	Token   string   `json:"token"`
	Bundles []Bundle `json:"bundles"`
}

// document is the serialized form of the whole registry.
type document struct {
	Stores map[string]*Store      `json:"stores"`
	Assets map[string]assetRecord `json:"assets"`
}

// assetRecord is a placeholder. Only the presence of the hash key matters;
// the asset bytes live in the asset blob root.
type assetRecord struct{}

// Registry is the aggregate root for all depot metadata.
type Registry struct {
	m    sync.Mutex // serializes every read-modify-write cycle
	path string     // location of the backing document
	doc  document
}

// Open loads the registry document at path, creating an empty one if none
// exists there yet. An existing document is loaded as-is and never
// overwritten by the empty seed.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path}
	err := r.load()
	if err != nil {
		return nil, err
	}
	return r, nil
}

// CreateStore makes a new empty store with a freshly generated access
// token and returns a copy of its record. It fails with ErrAlreadyExists
// if the id is already taken.
func (r *Registry) CreateStore(id string) (*Store, error) {
	r.m.Lock()
	defer r.m.Unlock()
	if _, ok := r.doc.Stores[id]; ok {
		return nil, errors.Wrapf(ErrAlreadyExists, "store %s", id)
	}
	st := &Store{ID: id, Token: newToken()}
	r.doc.Stores[id] = st
	err := r.save()
	if err != nil {
		return nil, err
	}
	return copystore(st), nil
}

// DeleteStore removes the store record and returns it. The caller is
// responsible for deleting the store's blobs.
func (r *Registry) DeleteStore(id string) (*Store, error) {
	r.m.Lock()
	defer r.m.Unlock()
	st, ok := r.doc.Stores[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "store %s", id)
	}
	delete(r.doc.Stores, id)
	err := r.save()
	if err != nil {
		return nil, err
	}
	return copystore(st), nil
}

// HasStore reports whether a store with the given id exists.
func (r *Registry) HasStore(id string) bool {
	r.m.Lock()
	defer r.m.Unlock()
	_, ok := r.doc.Stores[id]
	return ok
}

// GetStore returns a copy of the store record.
func (r *Registry) GetStore(id string) (*Store, error) {
	r.m.Lock()
	defer r.m.Unlock()
	st, ok := r.doc.Stores[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "store %s", id)
	}
	return copystore(st), nil
}

// FindStoreByToken returns a copy of the store whose access token exactly
// matches token.
func (r *Registry) FindStoreByToken(token string) (*Store, error) {
	r.m.Lock()
	defer r.m.Unlock()
	for _, st := range r.doc.Stores {
		if st.Token == token {
			return copystore(st), nil
		}
	}
	return nil, errors.Wrap(ErrNotFound, "no store with token")
}

// ListStores returns the ids of every store, in no particular order.
func (r *Registry) ListStores() []string {
	r.m.Lock()
	defer r.m.Unlock()
	result := make([]string, 0, len(r.doc.Stores))
	for id := range r.doc.Stores {
		result = append(result, id)
	}
	return result
}

// AddBundle appends b to the tail of the store's bundle sequence.
func (r *Registry) AddBundle(storeID string, b Bundle) error {
	r.m.Lock()
	defer r.m.Unlock()
	st, ok := r.doc.Stores[storeID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "store %s", storeID)
	}
	st.Bundles = append(st.Bundles, b)
	return r.save()
}

// RemoveBundle removes the bundle with the given id from the store and
// returns the removed record.
func (r *Registry) RemoveBundle(storeID, bundleID string) (*Bundle, error) {
	r.m.Lock()
	defer r.m.Unlock()
	st, ok := r.doc.Stores[storeID]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "store %s", storeID)
	}
	for i, b := range st.Bundles {
		if b.ID == bundleID {
			st.Bundles = append(st.Bundles[:i], st.Bundles[i+1:]...)
			err := r.save()
			if err != nil {
				return nil, err
			}
			return &b, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "bundle %s in store %s", bundleID, storeID)
}

// GetBundle returns the bundle with the given id.
func (r *Registry) GetBundle(storeID, bundleID string) (*Bundle, error) {
	r.m.Lock()
	defer r.m.Unlock()
	st, ok := r.doc.Stores[storeID]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "store %s", storeID)
	}
	for _, b := range st.Bundles {
		if b.ID == bundleID {
			b := b
			return &b, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "bundle %s in store %s", bundleID, storeID)
}

// LatestBundle returns the last bundle in the store's sequence whose
// platform tag matches. It is the insertion order which matters here, not
// the bundle timestamps. The two orders agree unless the clock moved
// backward between ingests.
func (r *Registry) LatestBundle(storeID, platform string) (*Bundle, error) {
	r.m.Lock()
	defer r.m.Unlock()
	st, ok := r.doc.Stores[storeID]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "store %s", storeID)
	}
	for i := len(st.Bundles) - 1; i >= 0; i-- {
		if st.Bundles[i].Platform == platform {
			b := st.Bundles[i]
			return &b, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "no %s bundle in store %s", platform, storeID)
}

// Bundles returns the store's bundle records in insertion order. A
// non-empty platform restricts the list to that platform.
func (r *Registry) Bundles(storeID, platform string) ([]Bundle, error) {
	r.m.Lock()
	defer r.m.Unlock()
	st, ok := r.doc.Stores[storeID]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "store %s", storeID)
	}
	result := []Bundle{}
	for _, b := range st.Bundles {
		if platform == "" || b.Platform == platform {
			result = append(result, b)
		}
	}
	return result, nil
}

// RecordAssetHashes unions the given content hashes into the known-asset
// set. It is idempotent, and the document is persisted once per call, not
// once per hash.
func (r *Registry) RecordAssetHashes(hashes []string) error {
	r.m.Lock()
	defer r.m.Unlock()
	for _, h := range hashes {
		r.doc.Assets[h] = assetRecord{}
	}
	return r.save()
}

// KnownAssets returns a snapshot of the known asset hash set.
func (r *Registry) KnownAssets() map[string]bool {
	r.m.Lock()
	defer r.m.Unlock()
	result := make(map[string]bool, len(r.doc.Assets))
	for h := range r.doc.Assets {
		result[h] = true
	}
	return result
}

// copystore returns a copy of st with its own bundle slice, so callers
// cannot alias the registry's in-memory state.
func copystore(st *Store) *Store {
	result := &Store{ID: st.ID, Token: st.Token}
	result.Bundles = append([]Bundle(nil), st.Bundles...)
	return result
}

// newToken mints a random access token. Tokens are opaque and compared by
// exact match only.
func newToken() string {
	var b [16]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
