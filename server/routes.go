// Package server implements the REST API for the depot.
package server

import (
	"encoding/json"
	"expvar"
	"fmt"
	"log"
	"net/http"

	"github.com/facebookgo/httpdown"
	"github.com/julienschmidt/httprouter"

	"github.com/hangarhq/hangar/assets"
	"github.com/hangarhq/hangar/depot"
	"github.com/hangarhq/hangar/registry"
	"github.com/hangarhq/hangar/symbolicate"
)

// Version is the released version string. It is set externally at build
// time.
var Version = "devel"

// RESTServer holds the configuration for a depot REST API server.
//
// Set all the public fields and then call Run. Run will listen on the
// given port and handle requests. Do not change any fields after calling
// Run.
type RESTServer struct {
	// Port number to listen on. Defaults to 14500.
	PortNumber string

	// Registry is the metadata document. Run will panic if it is nil.
	Registry *registry.Registry

	// Depot mediates bundle blobs and metadata. Run will panic if it is
	// nil.
	Depot *depot.Depot

	// Assets ingests asset archives and answers delta queries.
	Assets *assets.Engine

	// Symbolicator runs crash trace symbolication. If nil, one is derived
	// from Depot.
	Symbolicator *symbolicate.Engine

	server httpdown.Server // used to close our listening socket
}

// AccessTokenHeader is the request header carrying a store's access token
// for privileged operations.
const AccessTokenHeader = "X-Access-Token"

// Run starts the server. It blocks listening for and handling http
// requests.
func (s *RESTServer) Run() error {
	log.Println("==========")
	log.Printf("Starting Hangar Server version %s", Version)

	if s.Registry == nil {
		panic("No registry given. Registry is nil.")
	}
	if s.Depot == nil {
		panic("No depot given. Depot is nil.")
	}
	if s.Symbolicator == nil {
		s.Symbolicator = &symbolicate.Engine{Depot: s.Depot}
	}
	if s.PortNumber == "" {
		s.PortNumber = "14500"
	}
	log.Println("Listening on", s.PortNumber)

	h := httpdown.HTTP{}
	var err error
	s.server, err = h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.addRoutes(),
	})
	if err != nil {
		log.Println(err)
		return err
	}
	return s.server.Wait()
}

// Stop will stop the server and return when all connections have drained
// and the socket is closed.
func (s *RESTServer) Stop() error {
	return s.server.Stop()
}

func (s *RESTServer) addRoutes() http.Handler {
	var routes = []struct {
		method  string
		route   string
		token   bool // token means the store's access token is required
		handler httprouter.Handle
	}{
		// bundle retrieval and ingest
		{"GET", "/bundles/:store/:platform/:bundle/index.bundle", false, s.BundleHandler},
		{"GET", "/bundles/:store/:platform/:bundle/index.map", false, s.SourceMapHandler},
		{"POST", "/bundles/:store/:platform", true, s.IngestBundleHandler},
		{"GET", "/bundles/:store/:platform", false, s.ListBundlesHandler},
		{"GET", "/bundles/:store", false, s.ListBundlesHandler},

		// store lifecycle
		{"POST", "/stores/:store", false, s.CreateStoreHandler},
		{"DELETE", "/stores/:store", true, s.DeleteStoreHandler},
		{"GET", "/stores", false, s.ListStoresHandler},

		// asset things
		{"POST", "/assets", false, s.IngestAssetsHandler},
		{"POST", "/assets/delta", false, s.AssetDeltaHandler},
		{"GET", "/assets/*path", false, s.AssetHandler},

		// other
		{"POST", "/symbolicate", false, s.SymbolicateHandler},
		{"GET", "/status", false, StatusHandler},
		{"GET", "/debug/vars", false, VarHandler}, // standard route for expvars data
	}

	r := httprouter.New()
	for _, route := range routes {
		h := route.handler
		if route.token {
			h = s.tokenWrapper(h)
		}
		r.Handle(route.method, route.route, logWrapper(h))
	}
	return r
}

// StatusHandler returns the fixed liveness payload.
func StatusHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, `{"app":"hangar","version":%q}`, Version)
	fmt.Fprintln(w)
}

// VarHandler adapts the expvar default handler to the httprouter three
// parameter handler.
func VarHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	// this code is taken from the stdlib expvar package.
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, "{\n")
	first := true
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprintf(w, ",\n")
		}
		first = false
		fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
	})
	fmt.Fprintf(w, "\n}\n")
}

// tokenWrapper returns a Handler which first verifies the store access
// token in the request header. A missing token is a 400, a token which
// does not match the store's is a 403, and a store which does not exist
// is a 404.
func (s *RESTServer) tokenWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := r.Header.Get(AccessTokenHeader)
		if token == "" {
			w.WriteHeader(400)
			fmt.Fprintln(w, "missing access token")
			return
		}
		st, err := s.Registry.GetStore(ps.ByName("store"))
		if err != nil {
			writeError(w, err)
			return
		}
		if st.Token != token {
			w.WriteHeader(403)
			fmt.Fprintln(w, "access token mismatch")
			return
		}
		handler(w, r, ps)
	}
}

// logWrapper takes a handler and returns a handler which does the same
// thing, after first logging the request URL.
func logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL)
		handler(w, r, ps)
	}
}

// writeError maps an error from the core packages to its HTTP status.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case registry.IsNotFound(err):
		w.WriteHeader(404)
	case registry.IsAlreadyExists(err):
		w.WriteHeader(400)
	default:
		w.WriteHeader(500)
	}
	fmt.Fprintln(w, err.Error())
}

// writeJSON serializes val to the response with the right content type.
func writeJSON(w http.ResponseWriter, status int, val interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(val)
}
