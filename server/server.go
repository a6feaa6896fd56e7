// Package server contains misc HTTP utilities shared by httpapi: a
// goji-keyed route table, a small multi-mux aggregator, and a helper for
// serving a file from a content directory by basename.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"goji.io"
	"goji.io/pat"
)

// ReplyWithFile replies to the client request by serving the given file name
// out of fldr. fn is basenamed first, so callers cannot escape fldr via ../.
func ReplyWithFile(w http.ResponseWriter, r *http.Request, fn string, fldr string) {
	fn = filepath.Base(fn)
	filePath := filepath.Join(fldr, fn)

	f, err := os.Open(filePath)
	if err != nil {
		fstr := fmt.Sprintf("source file missing %s", filePath)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		fstr := fmt.Sprintf("error retrieving source file stats %s", err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, fn, stat.ModTime(), f)
}

// HTTPer is implemented by anything that can hand back a RouteTable to be
// bound onto a mux.
type HTTPer interface {
	RT() RouteTable
}

// RouteTable maps goji patterns to handlers. Patterns carry both the method
// and the path, following the pack's pat.Get/pat.Post convention.
type RouteTable map[*pat.Pattern]http.HandlerFunc

// Bind installs every route in the table onto mux.
func (rt RouteTable) Bind(mux *goji.Mux) {
	for p, h := range rt {
		mux.Handle(p, h)
	}
}

// A Server holds a RouteTable bound under a URL stem on its own submux.
type Server struct {
	RouteTable RouteTable
	URLStem    string
}

// BindRoutes mounts the server's submux onto root at /URLStem/*.
func (s *Server) BindRoutes(root *goji.Mux) {
	sub := goji.SubMux()
	s.RouteTable.Bind(sub)
	root.Handle(pat.New("/"+s.URLStem+"/*"), sub)
}

// Mainframe aggregates many Servers onto one goji.Mux and exposes a combined
// route graph for diagnostics.
type Mainframe struct {
	Root *goji.Mux

	nodes []*Server
}

// NewMainframe returns a Mainframe with a fresh root mux.
func NewMainframe() *Mainframe {
	return &Mainframe{Root: goji.NewMux()}
}

// Add registers a new server with the mainframe; call BindRoutes afterward
// to actually mount it.
func (m *Mainframe) Add(s *Server) {
	m.nodes = append(m.nodes, s)
}

// RouteGraph returns a non-recursive, depth-1 map of URL stems to endpoint
// counts, for a diagnostics dump.
func (m *Mainframe) RouteGraph() map[string]int {
	routes := make(map[string]int)
	for _, s := range m.nodes {
		routes[s.URLStem] = len(s.RouteTable)
	}
	return routes
}

// BindRoutes mounts every member server and a /route-graph introspection
// endpoint onto the root mux.
func (m *Mainframe) BindRoutes() {
	for _, s := range m.nodes {
		s.BindRoutes(m.Root)
	}
	m.Root.HandleFunc(pat.Get("/route-graph"), func(w http.ResponseWriter, r *http.Request) {
		graph := m.RouteGraph()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(graph)
		if err != nil {
			fstr := fmt.Sprintf("error encoding route graph to json %q", err)
			log.Println(fstr)
			http.Error(w, fstr, http.StatusInternalServerError)
		}
	})
}
