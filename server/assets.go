package server

import (
	"expvar"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"

	"github.com/antonholmquist/jason"
	"github.com/julienschmidt/httprouter"
)

var nAssetIngests = expvar.NewInt("assets.archives_ingested")

// IngestAssetsHandler handles requests to POST /assets. The zip archive
// arrives as the multipart field "assets". The archive is extracted into
// the asset root and the content hashes it carried are recorded and
// returned.
func (s *RESTServer) IngestAssetsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	archive, _, err := r.FormFile("assets")
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, "missing assets upload")
		return
	}
	defer archive.Close()

	hashes, err := s.Assets.IngestArchive(archive)
	if err != nil {
		writeError(w, err)
		return
	}
	err = s.Registry.RecordAssetHashes(hashes)
	if err != nil {
		writeError(w, err)
		return
	}
	nAssetIngests.Add(1)
	if hashes == nil {
		hashes = []string{}
	}
	writeJSON(w, 201, hashes)
}

// AssetDeltaHandler handles requests to POST /assets/delta. The body is a
// JSON object {"assets": [...]} of candidate content hashes; the response
// is the subsequence the server does not have yet.
func (s *RESTServer) AssetDeltaHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	body, err := jason.NewObjectFromReader(r.Body)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, "cannot parse request body")
		return
	}
	candidates, err := body.GetStringArray("assets")
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, "missing assets list")
		return
	}
	writeJSON(w, 200, s.Assets.Delta(candidates))
}

// AssetHandler handles requests to GET /assets/*path?hash=<h>. The asset
// is looked up by the content hash and the base name of the requested
// path; the rest of the path only exists for the client's benefit.
func (s *RESTServer) AssetHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	hash := r.URL.Query().Get("hash")
	if hash == "" {
		w.WriteHeader(400)
		fmt.Fprintln(w, "missing hash parameter")
		return
	}
	f, _, err := s.Assets.Open(hash, path.Base(ps.ByName("path")))
	if err != nil {
		if os.IsNotExist(err) {
			w.WriteHeader(404)
		} else {
			w.WriteHeader(500)
		}
		fmt.Fprintln(w, err.Error())
		return
	}
	defer f.Close()
	io.Copy(w, f)
}
