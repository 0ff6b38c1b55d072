/*
Package depot mediates between the blob roots and the registry so the two
stay consistent, and enforces the bundle retention policy.

Ordering matters on every path that touches both: blobs are written before
their metadata record is appended, and blobs are deleted before their
metadata record is removed. A crash in between can leave an orphaned blob,
which is harmless and can be garbage collected externally, but never a
metadata record pointing at bytes which do not exist.
*/
package depot

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"log"
	"time"

	"github.com/facebookgo/clock"
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/hangarhq/hangar/registry"
	"github.com/hangarhq/hangar/store"
)

// Latest is the sentinel bundle reference which resolves to the newest
// bundle for a platform instead of naming a bundle directly.
const Latest = "latest"

// A Depot owns the bundle and source-map blob roots together with the
// registry. Set the public fields before use; do not change them
// afterwards.
type Depot struct {
	Registry *registry.Registry
	Bundles  store.Store
	Maps     store.Store

	// MaxBundles is the retention limit per store. A negative value means
	// unlimited.
	MaxBundles int

	// Clock supplies bundle timestamps. If nil, the wall clock is used.
	Clock clock.Clock
}

// IngestBundle stores a new bundle and its source map for the given store
// and platform, evicting the oldest bundle first if the store is at its
// retention limit. It returns the new bundle record.
func (d *Depot) IngestBundle(storeID, platform string, bundle, sourceMap io.Reader) (*registry.Bundle, error) {
	st, err := d.Registry.GetStore(storeID)
	if err != nil {
		return nil, err
	}

	if d.MaxBundles >= 0 && len(st.Bundles) >= d.MaxBundles {
		d.evictOldest(storeID, st)
	}

	b := registry.Bundle{
		ID:        randomid(),
		Platform:  platform,
		SourceMap: randomid(),
		CreatedAt: d.now(),
	}

	// blobs first, metadata last
	err = copyblob(d.Bundles, b.ID, bundle)
	if err != nil {
		return nil, errors.Wrap(err, "storing bundle blob")
	}
	err = copyblob(d.Maps, b.SourceMap, sourceMap)
	if err != nil {
		return nil, errors.Wrap(err, "storing source map blob")
	}
	err = d.Registry.AddBundle(storeID, b)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// evictOldest removes the first bundle in the store's sequence, across all
// platforms. A blob deletion failure is logged and does not stop the
// metadata removal; the trade-off is that a stale blob may leak disk space
// rather than block new ingests.
func (d *Depot) evictOldest(storeID string, st *registry.Store) {
	if len(st.Bundles) == 0 {
		return
	}
	oldest := st.Bundles[0]
	log.Println("evicting bundle", oldest.ID, "from store", storeID)
	if err := d.Bundles.Delete(oldest.ID); err != nil {
		log.Println("evict bundle blob:", oldest.ID, err)
		raven.CaptureError(err, map[string]string{"Store": storeID, "Bundle": oldest.ID})
	}
	if err := d.Maps.Delete(oldest.SourceMap); err != nil {
		log.Println("evict source map blob:", oldest.SourceMap, err)
		raven.CaptureError(err, map[string]string{"Store": storeID, "SourceMap": oldest.SourceMap})
	}
	if _, err := d.Registry.RemoveBundle(storeID, oldest.ID); err != nil {
		log.Println("evict bundle record:", oldest.ID, err)
	}
}

// DeleteStore removes every bundle and source-map blob belonging to the
// store, and then the store record itself. Blob deletion failures are
// logged and skipped so a stale file cannot make a store undeletable.
func (d *Depot) DeleteStore(storeID string) (*registry.Store, error) {
	st, err := d.Registry.GetStore(storeID)
	if err != nil {
		return nil, err
	}
	for _, b := range st.Bundles {
		if err := d.Bundles.Delete(b.ID); err != nil {
			log.Println("delete bundle blob:", b.ID, err)
			raven.CaptureError(err, map[string]string{"Store": storeID, "Bundle": b.ID})
		}
		if err := d.Maps.Delete(b.SourceMap); err != nil {
			log.Println("delete source map blob:", b.SourceMap, err)
			raven.CaptureError(err, map[string]string{"Store": storeID, "SourceMap": b.SourceMap})
		}
	}
	return d.Registry.DeleteStore(storeID)
}

// ResolveBundle resolves ref to a bundle record. The sentinel "latest"
// resolves to the newest bundle for the platform; any other value is
// treated as a literal bundle id.
func (d *Depot) ResolveBundle(storeID, ref, platform string) (*registry.Bundle, error) {
	if ref == Latest {
		return d.Registry.LatestBundle(storeID, platform)
	}
	return d.Registry.GetBundle(storeID, ref)
}

func (d *Depot) now() time.Time {
	if d.Clock != nil {
		return d.Clock.Now()
	}
	return time.Now()
}

// copyblob writes everything from r into a new blob with the given key.
func copyblob(s store.Store, key string, r io.Reader) error {
	w, err := s.Create(key)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, r)
	err2 := w.Close()
	if err == nil {
		err = err2
	}
	return err
}

// randomid mints an identifier for a new bundle or source-map blob.
// Identifiers are random enough to never be reused.
func randomid() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
