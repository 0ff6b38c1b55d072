package server

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// CreateStoreHandler handles requests to POST /stores/:store. The new
// record, including the generated access token, is returned to the
// caller; the token is shown only here and at GET /stores?token=.
func (s *RESTServer) CreateStoreHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	st, err := s.Registry.CreateStore(ps.ByName("store"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 201, st)
}

// DeleteStoreHandler handles requests to DELETE /stores/:store. The
// store's access token is checked before this is called. Every bundle and
// source map blob belonging to the store is deleted along with it.
func (s *RESTServer) DeleteStoreHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	st, err := s.Depot.DeleteStore(ps.ByName("store"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, st)
}

// ListStoresHandler handles requests to GET /stores. Without parameters
// it lists store ids. With ?token= it returns the single store record
// whose access token matches, so a client holding only a token can find
// its store.
func (s *RESTServer) ListStoresHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	token := r.URL.Query().Get("token")
	if token != "" {
		st, err := s.Registry.FindStoreByToken(token)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 200, st)
		return
	}
	ids := s.Registry.ListStores()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, 200, ids)
}
