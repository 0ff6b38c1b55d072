package depot

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/facebookgo/clock"

	"github.com/hangarhq/hangar/registry"
	"github.com/hangarhq/hangar/store"
)

func newTestDepot(t *testing.T, maxBundles int) (*Depot, string) {
	dir, err := ioutil.TempDir("", "depot-")
	if err != nil {
		t.Fatal(err)
	}
	r, err := registry.Open(filepath.Join(dir, "registry.json"))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}
	d := &Depot{
		Registry:   r,
		Bundles:    store.NewMemory(),
		Maps:       store.NewMemory(),
		MaxBundles: maxBundles,
		Clock:      clock.NewMock(),
	}
	return d, dir
}

func blobContent(t *testing.T, s store.Store, key string) string {
	r, _, err := s.Open(key)
	if err != nil {
		t.Fatalf("Open %s: %s", key, err)
	}
	defer r.Close()
	body, _ := ioutil.ReadAll(store.NewReader(r))
	return string(body)
}

func hasBlob(s store.Store, key string) bool {
	r, _, err := s.Open(key)
	if err != nil {
		return false
	}
	r.Close()
	return true
}

func TestIngestBundle(t *testing.T) {
	d, dir := newTestDepot(t, -1)
	defer os.RemoveAll(dir)
	d.Registry.CreateStore("acme")

	b, err := d.IngestBundle("acme", "android",
		strings.NewReader("bundle bytes"), strings.NewReader("map bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if b.Platform != "android" {
		t.Errorf("Got platform %s, expected android", b.Platform)
	}
	if got := blobContent(t, d.Bundles, b.ID); got != "bundle bytes" {
		t.Errorf("Got %#v, expected %#v", got, "bundle bytes")
	}
	if got := blobContent(t, d.Maps, b.SourceMap); got != "map bytes" {
		t.Errorf("Got %#v, expected %#v", got, "map bytes")
	}

	_, err = d.IngestBundle("nope", "android",
		strings.NewReader("x"), strings.NewReader("y"))
	if !registry.IsNotFound(err) {
		t.Errorf("Got %v, expected not found", err)
	}
}

func TestEviction(t *testing.T) {
	const max = 2
	d, dir := newTestDepot(t, max)
	defer os.RemoveAll(dir)
	d.Registry.CreateStore("acme")

	var ids []string
	platforms := []string{"android", "ios", "android", "android", "ios"}
	for _, p := range platforms {
		b, err := d.IngestBundle("acme", p,
			strings.NewReader("bundle "+p), strings.NewReader("map "+p))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, b.ID)
	}

	st, _ := d.Registry.GetStore("acme")
	if len(st.Bundles) != max {
		t.Fatalf("Got %d bundles, expected %d", len(st.Bundles), max)
	}
	// the survivors are the most recent ingests, in their original order
	for i, b := range st.Bundles {
		want := ids[len(ids)-max+i]
		if b.ID != want {
			t.Errorf("Got %s at position %d, expected %s", b.ID, i, want)
		}
	}
	// evicted blobs are gone
	for _, id := range ids[:len(ids)-max] {
		if hasBlob(d.Bundles, id) {
			t.Errorf("Expected bundle blob %s to be deleted", id)
		}
	}
	// surviving blobs are intact
	for _, id := range ids[len(ids)-max:] {
		if !hasBlob(d.Bundles, id) {
			t.Errorf("Expected bundle blob %s to exist", id)
		}
	}
}

func TestEvictionIsStoreGlobal(t *testing.T) {
	d, dir := newTestDepot(t, 1)
	defer os.RemoveAll(dir)
	d.Registry.CreateStore("acme")

	android, err := d.IngestBundle("acme", "android",
		strings.NewReader("a"), strings.NewReader("am"))
	if err != nil {
		t.Fatal(err)
	}
	// ingesting for a different platform still evicts the oldest bundle
	_, err = d.IngestBundle("acme", "ios",
		strings.NewReader("i"), strings.NewReader("im"))
	if err != nil {
		t.Fatal(err)
	}
	if hasBlob(d.Bundles, android.ID) {
		t.Errorf("Expected android bundle to be evicted")
	}
	_, err = d.Registry.LatestBundle("acme", "android")
	if !registry.IsNotFound(err) {
		t.Errorf("Got %v, expected not found", err)
	}
}

func TestResolveBundle(t *testing.T) {
	d, dir := newTestDepot(t, -1)
	defer os.RemoveAll(dir)
	d.Registry.CreateStore("acme")

	b1, _ := d.IngestBundle("acme", "android", strings.NewReader("1"), strings.NewReader("1m"))
	b2, _ := d.IngestBundle("acme", "android", strings.NewReader("2"), strings.NewReader("2m"))

	b, err := d.ResolveBundle("acme", Latest, "android")
	if err != nil {
		t.Fatal(err)
	}
	if b.ID != b2.ID {
		t.Errorf("Got %s, expected %s", b.ID, b2.ID)
	}
	b, err = d.ResolveBundle("acme", b1.ID, "android")
	if err != nil {
		t.Fatal(err)
	}
	if b.ID != b1.ID {
		t.Errorf("Got %s, expected %s", b.ID, b1.ID)
	}
	_, err = d.ResolveBundle("acme", "bogus", "android")
	if !registry.IsNotFound(err) {
		t.Errorf("Got %v, expected not found", err)
	}
}

func TestDeleteStore(t *testing.T) {
	d, dir := newTestDepot(t, -1)
	defer os.RemoveAll(dir)
	d.Registry.CreateStore("acme")

	b1, _ := d.IngestBundle("acme", "android", strings.NewReader("1"), strings.NewReader("1m"))
	b2, _ := d.IngestBundle("acme", "ios", strings.NewReader("2"), strings.NewReader("2m"))

	removed, err := d.DeleteStore("acme")
	if err != nil {
		t.Fatal(err)
	}
	if removed.ID != "acme" || len(removed.Bundles) != 2 {
		t.Errorf("Got %v, expected acme with two bundles", removed)
	}
	for _, b := range []*registry.Bundle{b1, b2} {
		if hasBlob(d.Bundles, b.ID) {
			t.Errorf("Expected bundle blob %s to be deleted", b.ID)
		}
		if hasBlob(d.Maps, b.SourceMap) {
			t.Errorf("Expected source map blob %s to be deleted", b.SourceMap)
		}
	}
	if d.Registry.HasStore("acme") {
		t.Errorf("Expected store record to be gone")
	}
}

func TestIngestTimestampsUseClock(t *testing.T) {
	d, dir := newTestDepot(t, -1)
	defer os.RemoveAll(dir)
	d.Registry.CreateStore("acme")

	mock := clock.NewMock()
	d.Clock = mock
	b, err := d.IngestBundle("acme", "ios", strings.NewReader("x"), strings.NewReader("y"))
	if err != nil {
		t.Fatal(err)
	}
	if !b.CreatedAt.Equal(mock.Now()) {
		t.Errorf("Got %v, expected %v", b.CreatedAt, mock.Now())
	}
}
