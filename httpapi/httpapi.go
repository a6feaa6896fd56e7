// Package httpapi is the external collaborator that exposes the
// Machine Controller, toolpath file store, and tool store over HTTP and
// a websocket live feed (§6). It is a thin transport layer: every
// handler translates a request into a call on the core and a typed
// error into an HTTP status, and nothing else.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"goji.io"
	"goji.io/pat"

	"github.com/benchcnc/cncrouter/broadcast"
	"github.com/benchcnc/cncrouter/filestore"
	"github.com/benchcnc/cncrouter/gcode"
	"github.com/benchcnc/cncrouter/machine"
	"github.com/benchcnc/cncrouter/server"
	"github.com/benchcnc/cncrouter/toolstore"
)

// Server wraps the core packages with the goji-routed HTTP surface §6
// describes, plus a chi-routed /diag submux for request-logged
// administrative introspection.
type Server struct {
	Mux *goji.Mux

	controller *machine.Controller
	files      *filestore.Store
	tools      *toolstore.Store
	bc         *broadcast.Broadcaster
}

// New builds a Server with every route bound.
func New(controller *machine.Controller, files *filestore.Store, tools *toolstore.Store, bc *broadcast.Broadcaster) *Server {
	s := &Server{controller: controller, files: files, tools: tools, bc: bc}

	mf := server.NewMainframe()
	mf.Add(&server.Server{URLStem: "api", RouteTable: s.routeTable()})
	mf.BindRoutes()

	mf.Root.Handle(pat.Get("/ws"), http.HandlerFunc(s.handleWebsocket))
	mf.Root.HandleFunc(pat.Get("/health"), s.handleHealth)
	mf.Root.Handle(pat.New("/diag/*"), s.diagRouter())

	s.Mux = mf.Root
	return s
}

func (s *Server) routeTable() server.RouteTable {
	return server.RouteTable{
		pat.Get("/files"):                   s.listFiles,
		pat.Post("/files"):                  s.uploadFile,
		pat.Delete("/files/:name"):          s.deleteFile,
		pat.Get("/files/:name/preview"):     s.previewFile,

		pat.Get("/tools"):       s.listTools,
		pat.Post("/tools"):      s.createTool,
		pat.Put("/tools/:id"):   s.updateTool,
		pat.Delete("/tools/:id"): s.deleteTool,

		pat.Post("/job/start"):  s.startJob,
		pat.Post("/job/pause"):  s.pauseJob,
		pat.Post("/job/resume"): s.resumeJob,
		pat.Post("/job/stop"):   s.stopJob,
		pat.Post("/job/home"):   s.homeJob,

		pat.Post("/workoffset"): s.setWorkOffset,
		pat.Post("/jog"):        s.jog,
		pat.Get("/state"):       s.getState,
	}
}

// diagRouter mounts a chi submux with request logging, the pattern
// cmd/dacsrv's main uses chi.NewRouter()+middleware.Logger for its
// top-level router; here it is reserved for administrative endpoints
// instead of the whole API.
func (s *Server) diagRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	// mounted directly on the goji root (not behind a goji.SubMux), so
	// routes here see the unstripped request path
	r.Get("/diag/routes", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"api": len(s.routeTable())})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sub, err := broadcast.Upgrade(w, r)
	if err != nil {
		return
	}
	defer sub.Close()
	s.bc.Register(sub)
	defer s.bc.Unregister(sub)

	// block until the client goes away; reads are discarded, the
	// connection exists only to carry outbound snapshots
	for {
		if _, _, err := sub.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	if merr, ok := err.(*machine.Error); ok {
		switch merr.Kind {
		case machine.KindNotFound:
			http.Error(w, merr.Error(), http.StatusNotFound)
			return
		case machine.KindInvalidArgument:
			http.Error(w, merr.Error(), http.StatusBadRequest)
			return
		case machine.KindInvalidState:
			http.Error(w, merr.Error(), http.StatusConflict)
			return
		}
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// --- files ---

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	list, err := s.files.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "missing name query parameter", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	info, err := s.files.Save(name, body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	name := pat.Param(r, "name")
	if err := s.files.Delete(name); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) previewFile(w http.ResponseWriter, r *http.Request) {
	name := pat.Param(r, "name")
	if !s.files.Exists(name) {
		http.Error(w, "file not found: "+name, http.StatusNotFound)
		return
	}
	preview, err := s.files.Preview(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// --- tools ---

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tools.List())
}

func (s *Server) createTool(w http.ResponseWriter, r *http.Request) {
	var t machine.Tool
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	writeJSON(w, http.StatusCreated, s.tools.Create(t))
}

func (s *Server) updateTool(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(pat.Param(r, "id"))
	if err != nil {
		http.Error(w, "invalid tool id", http.StatusBadRequest)
		return
	}
	var t machine.Tool
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	t.ID = id
	if err := s.tools.Update(t); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) deleteTool(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(pat.Param(r, "id"))
	if err != nil {
		http.Error(w, "invalid tool id", http.StatusBadRequest)
		return
	}
	if err := s.tools.Delete(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- job control ---

type startJobRequest struct {
	Filename string `json:"filename"`
	ToolID   *int   `json:"tool_id,omitempty"`
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if err := s.controller.StartJob(req.Filename, req.ToolID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) pauseJob(w http.ResponseWriter, r *http.Request) {
	s.controller.Pause()
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	s.controller.Resume()
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) stopJob(w http.ResponseWriter, r *http.Request) {
	s.controller.Stop()
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) homeJob(w http.ResponseWriter, r *http.Request) {
	s.controller.Home()
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

// --- work offset / jog / state ---

type workOffsetRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (s *Server) setWorkOffset(w http.ResponseWriter, r *http.Request) {
	var req workOffsetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	s.controller.SetWorkOffset(gcode.Vec3{req.X, req.Y, req.Z})
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

type jogRequest struct {
	Axis  string  `json:"axis"`
	Delta float64 `json:"delta"`
	Feed  float64 `json:"feed"`
}

func (s *Server) jog(w http.ResponseWriter, r *http.Request) {
	var req jogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if err := s.controller.JogWithFeed(req.Axis, req.Delta, req.Feed); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}
