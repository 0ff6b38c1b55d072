package symbolicate

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/hangarhq/hangar/depot"
	"github.com/hangarhq/hangar/registry"
	"github.com/hangarhq/hangar/store"
)

// the standard two-file example map: min.js generated from one.js and
// two.js
const testMap = `{
	"version": 3,
	"file": "min.js",
	"names": ["bar", "baz", "n"],
	"sources": ["one.js", "two.js"],
	"mappings": "CAAC,IAAI,IAAM,SAAUA,GAClB,OAAOC,IAAID;CCDb,IAAI,IAAM,SAAUE,GAClB,OAAOA"
}`

func TestExtractBundleRef(t *testing.T) {
	var table = []struct {
		url string
		ref BundleRef
		bad bool
	}{
		{"http://h/bundles/acme/android/latest/index.bundle",
			BundleRef{"acme", "android", "latest"}, false},
		{"https://cdn.example.com/x/bundles/acme/ios/0a1b2c3d/index.bundle?v=2",
			BundleRef{"acme", "ios", "0a1b2c3d"}, false},
		{"http://h/stores/acme", BundleRef{}, true},
		{"http://h/bundles/acme/android", BundleRef{}, true},
		{"", BundleRef{}, true},
	}
	for _, tab := range table {
		ref, err := ExtractBundleRef(tab.url)
		if tab.bad {
			if errors.Cause(err) != ErrMalformedReference {
				t.Errorf("%q: got %v, expected malformed reference", tab.url, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: got error %s", tab.url, err)
			continue
		}
		if ref != tab.ref {
			t.Errorf("%q: got %v, expected %v", tab.url, ref, tab.ref)
		}
	}
}

func TestSymbolicate(t *testing.T) {
	frames := []Frame{
		{
			"file":       "http://h/bundles/acme/android/latest/index.bundle",
			"lineNumber": 2,
			"column":     28,
			"methodName": "onPress",
		},
		// no line/column: passes through
		{
			"file":       "http://h/bundles/acme/android/latest/index.bundle",
			"methodName": "render",
		},
		// not an HTTP URL: passes through
		{
			"file":       "[native code]",
			"lineNumber": 1,
			"column":     1,
			"methodName": "value",
		},
	}
	out, err := Symbolicate(frames, []byte(testMap))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(frames) {
		t.Fatalf("Got %d frames, expected %d", len(out), len(frames))
	}

	f := out[0]
	if f["file"] != "two.js" {
		t.Errorf("Got file %v, expected two.js", f["file"])
	}
	if line, _ := asInt(f["lineNumber"]); line != 2 {
		t.Errorf("Got line %v, expected 2", f["lineNumber"])
	}
	if col, _ := asInt(f["column"]); col != 10 {
		t.Errorf("Got column %v, expected 10", f["column"])
	}
	// the reported method name wins over the map's name ("n")
	if f["methodName"] != "onPress" {
		t.Errorf("Got methodName %v, expected onPress", f["methodName"])
	}

	if out[1]["methodName"] != "render" || out[1]["file"] != frames[1]["file"] {
		t.Errorf("Got %v, expected frame to pass through", out[1])
	}
	if out[2]["file"] != "[native code]" {
		t.Errorf("Got %v, expected frame to pass through", out[2])
	}
}

func TestSymbolicatePreservesUnknownFields(t *testing.T) {
	frames := []Frame{
		{
			"file":       "http://h/bundles/acme/android/latest/index.bundle",
			"lineNumber": 2,
			"column":     28,
			"arguments":  []interface{}{"a", "b"},
			"collapse":   false,
		},
	}
	out, err := Symbolicate(frames, []byte(testMap))
	if err != nil {
		t.Fatal(err)
	}
	if out[0]["collapse"] != false {
		t.Errorf("Got %v, expected collapse field to survive", out[0])
	}
	args, ok := out[0]["arguments"].([]interface{})
	if !ok || len(args) != 2 {
		t.Errorf("Got %v, expected arguments to survive", out[0]["arguments"])
	}
}

func TestSymbolicateInvalidMap(t *testing.T) {
	_, err := Symbolicate([]Frame{}, []byte("not a map"))
	if errors.Cause(err) != ErrInvalidMap {
		t.Errorf("Got %v, expected invalid map", err)
	}
}

func newTestEngine(t *testing.T) (*Engine, string) {
	dir, err := ioutil.TempDir("", "symbolicate-")
	if err != nil {
		t.Fatal(err)
	}
	r, err := registry.Open(filepath.Join(dir, "registry.json"))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}
	d := &depot.Depot{
		Registry:   r,
		Bundles:    store.NewMemory(),
		Maps:       store.NewMemory(),
		MaxBundles: -1,
	}
	return &Engine{Depot: d}, dir
}

func TestProcess(t *testing.T) {
	e, dir := newTestEngine(t)
	defer os.RemoveAll(dir)
	e.Depot.Registry.CreateStore("acme")
	_, err := e.Depot.IngestBundle("acme", "android",
		strings.NewReader("bundle"), strings.NewReader(testMap))
	if err != nil {
		t.Fatal(err)
	}

	body := `{"stack":[
		{"file":"http://h/bundles/acme/android/latest/index.bundle",
		 "lineNumber":2,"column":28,"methodName":"onPress"}]}`
	resp, err := e.Process([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Stack []Frame `json:"stack"`
	}
	err = json.Unmarshal(resp, &out)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Stack) != 1 {
		t.Fatalf("Got %d frames, expected 1", len(out.Stack))
	}
	f := out.Stack[0]
	if f["file"] != "two.js" || f["methodName"] != "onPress" {
		t.Errorf("Got %v, expected two.js / onPress", f)
	}
}

func TestProcessMissingReference(t *testing.T) {
	e, dir := newTestEngine(t)
	defer os.RemoveAll(dir)

	_, err := e.Process([]byte(`{"stack":[{"file":"[native code]"}]}`))
	if errors.Cause(err) != ErrMissingReference {
		t.Errorf("Got %v, expected missing reference", err)
	}
}

func TestProcessUnknownStore(t *testing.T) {
	e, dir := newTestEngine(t)
	defer os.RemoveAll(dir)

	body := `{"stack":[{"file":"http://h/bundles/nope/android/latest/index.bundle",
		"lineNumber":1,"column":1}]}`
	_, err := e.Process([]byte(body))
	if !registry.IsNotFound(err) {
		t.Errorf("Got %v, expected not found", err)
	}
}
