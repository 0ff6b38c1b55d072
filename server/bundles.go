package server

import (
	"expvar"
	"fmt"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/hangarhq/hangar/registry"
	"github.com/hangarhq/hangar/store"
)

var nIngests = expvar.NewInt("bundles.ingested")

// BundleHandler handles requests to
// GET /bundles/:store/:platform/:bundle/index.bundle
func (s *RESTServer) BundleHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.streamBlobFor(w, ps, s.Depot.Bundles, "application/javascript; charset=utf-8", pickBundleID)
}

// SourceMapHandler handles requests to
// GET /bundles/:store/:platform/:bundle/index.map
func (s *RESTServer) SourceMapHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.streamBlobFor(w, ps, s.Depot.Maps, "application/json; charset=utf-8", pickSourceMapID)
}

func pickBundleID(b *registry.Bundle) string    { return b.ID }
func pickSourceMapID(b *registry.Bundle) string { return b.SourceMap }

// streamBlobFor resolves the bundle named in the request path, picks one
// of its blob keys, and streams that blob to the client.
func (s *RESTServer) streamBlobFor(w http.ResponseWriter, ps httprouter.Params, src store.Store, contentType string, pick func(*registry.Bundle) string) {
	b, err := s.Depot.ResolveBundle(
		ps.ByName("store"),
		ps.ByName("bundle"),
		ps.ByName("platform"))
	if err != nil {
		writeError(w, err)
		return
	}
	blob, _, err := src.Open(pick(b))
	if err != nil {
		// the metadata record exists but its bytes are gone
		w.WriteHeader(404)
		fmt.Fprintln(w, err.Error())
		return
	}
	defer blob.Close()
	w.Header().Set("Content-Type", contentType)
	io.Copy(w, store.NewReader(blob))
}

// IngestBundleHandler handles requests to POST /bundles/:store/:platform.
// The store's access token is checked before this is called. The bundle
// and its source map arrive as the multipart fields "bundle" and
// "sourcemap".
func (s *RESTServer) IngestBundleHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	platform := ps.ByName("platform")
	if !registry.ValidPlatform(platform) {
		w.WriteHeader(400)
		fmt.Fprintln(w, "unknown platform", platform)
		return
	}
	bundle, _, err := r.FormFile("bundle")
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, "missing bundle upload")
		return
	}
	defer bundle.Close()
	sourceMap, _, err := r.FormFile("sourcemap")
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, "missing sourcemap upload")
		return
	}
	defer sourceMap.Close()

	b, err := s.Depot.IngestBundle(ps.ByName("store"), platform, bundle, sourceMap)
	if err != nil {
		writeError(w, err)
		return
	}
	nIngests.Add(1)
	writeJSON(w, 201, b)
}

// ListBundlesHandler handles requests to GET /bundles/:store and
// GET /bundles/:store/:platform. The list is the store's bundle metadata
// in insertion order, optionally filtered by platform.
func (s *RESTServer) ListBundlesHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	list, err := s.Registry.Bundles(ps.ByName("store"), ps.ByName("platform"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, list)
}
