package symbolicate

import (
	"encoding/json"
	"io/ioutil"

	"github.com/pkg/errors"

	"github.com/hangarhq/hangar/depot"
	"github.com/hangarhq/hangar/registry"
	"github.com/hangarhq/hangar/store"
)

// An Engine runs the whole symbolication flow for one request body.
type Engine struct {
	Depot *depot.Depot
}

// Process takes a request body holding a JSON {"stack": [...]} envelope,
// locates the bundle named by the first frame with an HTTP(S) file URL,
// loads its source map, and returns the symbolicated stack in the same
// envelope.
func (e *Engine) Process(body []byte) ([]byte, error) {
	var req struct {
		Stack []Frame `json:"stack"`
	}
	err := json.Unmarshal(body, &req)
	if err != nil {
		return nil, errors.Wrapf(ErrMissingReference, "parsing request: %v", err)
	}

	var ref BundleRef
	found := false
	for _, f := range req.Stack {
		file, ok := f["file"].(string)
		if !ok || !isHTTPURL(file) {
			continue
		}
		ref, err = ExtractBundleRef(file)
		if err != nil {
			return nil, err
		}
		found = true
		break
	}
	if !found {
		return nil, errors.WithStack(ErrMissingReference)
	}

	b, err := e.Depot.ResolveBundle(ref.Store, ref.Bundle, ref.Platform)
	if err != nil {
		return nil, err
	}
	mapdata, err := readblob(e.Depot.Maps, b.SourceMap)
	if err != nil {
		return nil, errors.Wrapf(registry.ErrNotFound, "source map %s: %v", b.SourceMap, err)
	}

	out, err := Symbolicate(req.Stack, mapdata)
	if err != nil {
		return nil, err
	}
	resp := struct {
		Stack []Frame `json:"stack"`
	}{Stack: out}
	return json.Marshal(resp)
}

func readblob(s store.Store, key string) ([]byte, error) {
	r, _, err := s.Open(key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return ioutil.ReadAll(store.NewReader(r))
}
