package httpapi_test

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/benchcnc/cncrouter/broadcast"
	"github.com/benchcnc/cncrouter/filestore"
	"github.com/benchcnc/cncrouter/httpapi"
	"github.com/benchcnc/cncrouter/machine"
	"github.com/benchcnc/cncrouter/spindle"
	"github.com/benchcnc/cncrouter/toolstore"
	"github.com/benchcnc/cncrouter/util"
)

func newTestServer(t *testing.T) *httpapi.Server {
	t.Helper()
	files, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tools := toolstore.New()
	shim := spindle.NewShim(spindle.NoopVFD{}, util.Limiter{Min: 0, Max: 24000}, 5.0)
	ctl := machine.New(nil, shim, spindle.NoopVacuum{}, files, tools, log.Default())
	bc := broadcast.New(ctl, log.Default())
	return httpapi.New(ctl, files, tools, bc)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCreateAndListTool(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{"name": "1/8in endmill", "rpm": 18000})
	req := httptest.NewRequest(http.MethodPost, "/api/tools", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/tools", nil)
	w = httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var tools []machine.Tool
	if err := json.Unmarshal(w.Body.Bytes(), &tools); err != nil {
		t.Fatal(err)
	}
	if len(tools) != 1 || tools[0].Name != "1/8in endmill" {
		t.Errorf("expected one round-tripped tool, got %+v", tools)
	}
}

func TestStartJobMissingFileReturnsNotFound(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]interface{}{"filename": "nope.gcode"})
	req := httptest.NewRequest(http.MethodPost, "/api/job/start", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestJogInvalidAxisReturnsBadRequest(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]interface{}{"axis": "Q", "delta": 1.0})
	req := httptest.NewRequest(http.MethodPost, "/api/jog", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStateEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	w := httptest.NewRecorder()
	s.Mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var state machine.State
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatal(err)
	}
	if state.Status != machine.StatusIdle {
		t.Errorf("expected idle status on a fresh controller, got %s", state.Status)
	}
}
