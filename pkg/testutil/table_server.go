// Package testutil provides fake servers for tests: a Dune Weaver table
// speaking the table's HTTP API and a Home Assistant websocket endpoint.
package testutil

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// RunRequest is a recorded POST /run_theta_rho body
type RunRequest struct {
	FileName     string `json:"file_name"`
	PreExecution string `json:"pre_execution"`
}

// FakeTable is an in-memory Dune Weaver table. Playlists that were never
// set answer 404.
type FakeTable struct {
	server *httptest.Server

	mu        sync.Mutex
	playlists map[string][]string
	files     []string
	runs      []RunRequest
	runStatus int
	requests  map[string]int
}

// NewFakeTable starts a fake table; it is closed by Close
func NewFakeTable() *FakeTable {
	f := &FakeTable{
		playlists: make(map[string][]string),
		runStatus: http.StatusOK,
		requests:  make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/run_theta_rho", f.handleRun)
	mux.HandleFunc("/get_playlist", f.handleGetPlaylist)
	mux.HandleFunc("/list_theta_rho_files", f.handleListFiles)
	f.server = httptest.NewServer(mux)
	return f
}

// URL returns the table's base URL
func (f *FakeTable) URL() string {
	return f.server.URL
}

// HostPort returns the host and port the table listens on
func (f *FakeTable) HostPort() (string, int) {
	host, portStr, _ := net.SplitHostPort(f.server.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// Close stops the server
func (f *FakeTable) Close() {
	f.server.Close()
}

// SetPlaylist defines a playlist
func (f *FakeTable) SetPlaylist(name string, files ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playlists[name] = files
}

// SetFiles sets the full pattern catalog
func (f *FakeTable) SetFiles(files ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = files
}

// FailRuns makes run requests answer status
func (f *FakeTable) FailRuns(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runStatus = status
}

// Runs returns the patterns started so far
func (f *FakeTable) Runs() []RunRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RunRequest(nil), f.runs...)
}

// Requests returns how many requests hit path
func (f *FakeTable) Requests(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[path]
}

func (f *FakeTable) count(r *http.Request) {
	f.mu.Lock()
	f.requests[r.URL.Path]++
	f.mu.Unlock()
}

func (f *FakeTable) handleRun(w http.ResponseWriter, r *http.Request) {
	f.count(r)
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	status := f.runStatus
	if status < 300 {
		f.runs = append(f.runs, req)
	}
	f.mu.Unlock()

	if status >= 300 {
		http.Error(w, "table busy", status)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (f *FakeTable) handleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	f.count(r)
	name := r.URL.Query().Get("name")

	f.mu.Lock()
	files, ok := f.playlists[name]
	f.mu.Unlock()

	if !ok {
		http.Error(w, `{"detail":"Playlist not found"}`, http.StatusNotFound)
		return
	}
	if files == nil {
		files = []string{}
	}
	writeJSON(w, map[string]interface{}{"name": name, "files": files})
}

func (f *FakeTable) handleListFiles(w http.ResponseWriter, r *http.Request) {
	f.count(r)
	f.mu.Lock()
	files := append([]string{}, f.files...)
	f.mu.Unlock()

	writeJSON(w, files)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
