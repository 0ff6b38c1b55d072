package server

import (
	"expvar"
	"fmt"
	"io/ioutil"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/hangarhq/hangar/registry"
)

var nSymbolications = expvar.NewInt("symbolicate.requests")

// SymbolicateHandler handles requests to POST /symbolicate. The body is a
// plain text JSON {"stack": [...]} envelope, and so is the response.
func (s *RESTServer) SymbolicateHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, "cannot read request body")
		return
	}
	resp, err := s.Symbolicator.Process(body)
	if err != nil {
		// absent stores, bundles, and source maps are 404; everything
		// wrong with the submitted stack itself is a 400
		if registry.IsNotFound(err) {
			w.WriteHeader(404)
		} else {
			w.WriteHeader(400)
		}
		fmt.Fprintln(w, err.Error())
		return
	}
	nSymbolications.Add(1)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(resp)
}
