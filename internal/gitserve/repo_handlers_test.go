package gitserve

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rybkr/gitengine/internal/reposerve"
)

// makeFakeSourceRepo creates a minimal bare-repository-shaped directory that
// repotransport.ValidateSource accepts as a clone source.
func makeFakeSourceRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "refs", "heads"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newTestRegistryServer(t *testing.T) *Server {
	t.Helper()
	reg := reposerve.New(reposerve.Config{Logger: silentLogger()})
	if err := reg.Start(); err != nil {
		t.Fatalf("failed to start registry: %v", err)
	}
	t.Cleanup(reg.Close)

	s := NewRegistryServer(reg, "127.0.0.1:0", t.TempDir())
	s.logger = silentLogger()
	return s
}

// waitForRegistered polls until id appears in the registry's listing or the
// deadline passes, returning the matching state string (empty if never seen).
func waitForRegistered(t *testing.T, s *Server, id string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if state, err := s.registryState(id); err == nil {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	return ""
}

func TestHandleAddRepo_Success(t *testing.T) {
	s := newTestRegistryServer(t)
	src := makeFakeSourceRepo(t)

	body := strings.NewReader(`{"sourcePath":"` + src + `"}`)
	req := httptest.NewRequest("POST", "/api/repos", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleAddRepo(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status code = %d, want %d; body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}

	var resp repoResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID == "" {
		t.Error("response ID is empty")
	}

	if state := waitForRegistered(t, s, resp.ID); state != "ready" {
		t.Errorf("repo state after clone = %q, want %q", state, "ready")
	}
}

func TestHandleAddRepo_MissingSourcePath(t *testing.T) {
	s := newTestRegistryServer(t)

	body := strings.NewReader(`{}`)
	req := httptest.NewRequest("POST", "/api/repos", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleAddRepo(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleAddRepo_NotAGitDirectory(t *testing.T) {
	s := newTestRegistryServer(t)

	body := strings.NewReader(`{"sourcePath":"` + t.TempDir() + `"}`)
	req := httptest.NewRequest("POST", "/api/repos", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.handleAddRepo(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want %d; body: %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestHandleListRepos(t *testing.T) {
	s := newTestRegistryServer(t)
	src := makeFakeSourceRepo(t)

	body := strings.NewReader(`{"sourcePath":"` + src + `"}`)
	addReq := httptest.NewRequest("POST", "/api/repos", body)
	addReq.Header.Set("Content-Type", "application/json")
	addW := httptest.NewRecorder()
	s.handleAddRepo(addW, addReq)

	var addResp repoResponse
	if err := json.NewDecoder(addW.Body).Decode(&addResp); err != nil {
		t.Fatalf("failed to decode add response: %v", err)
	}
	waitForRegistered(t, s, addResp.ID)

	req := httptest.NewRequest("GET", "/api/repos", nil)
	w := httptest.NewRecorder()

	s.handleListRepos(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}

	var repos []repoResponse
	if err := json.NewDecoder(w.Body).Decode(&repos); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(repos) != 1 {
		t.Errorf("got %d repos, want 1", len(repos))
	}
}

func TestHandleRepoStatus_NotFound(t *testing.T) {
	s := newTestRegistryServer(t)

	req := httptest.NewRequest("GET", "/api/repos/nonexistent/status", nil)
	w := httptest.NewRecorder()

	s.handleRepoStatus(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleRepoStatus_Found(t *testing.T) {
	s := newTestRegistryServer(t)
	src := makeFakeSourceRepo(t)

	body := strings.NewReader(`{"sourcePath":"` + src + `"}`)
	addReq := httptest.NewRequest("POST", "/api/repos", body)
	addReq.Header.Set("Content-Type", "application/json")
	addW := httptest.NewRecorder()
	s.handleAddRepo(addW, addReq)

	var addResp repoResponse
	if err := json.NewDecoder(addW.Body).Decode(&addResp); err != nil {
		t.Fatalf("failed to decode add response: %v", err)
	}
	waitForRegistered(t, s, addResp.ID)

	req := httptest.NewRequest("GET", "/api/repos/"+addResp.ID+"/status", nil)
	w := httptest.NewRecorder()

	s.handleRepoStatus(w, req, addResp.ID)

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp repoResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID != addResp.ID {
		t.Errorf("ID = %q, want %q", resp.ID, addResp.ID)
	}
}

func TestHandleRemoveRepo_NotFound(t *testing.T) {
	s := newTestRegistryServer(t)

	req := httptest.NewRequest("DELETE", "/api/repos/nonexistent", nil)
	w := httptest.NewRecorder()

	s.handleRemoveRepo(w, req, "nonexistent")

	// Forget is idempotent: removing an unknown ID still succeeds.
	if w.Code != http.StatusNoContent {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestHandleRemoveRepo_Success(t *testing.T) {
	s := newTestRegistryServer(t)
	src := makeFakeSourceRepo(t)

	body := strings.NewReader(`{"sourcePath":"` + src + `"}`)
	addReq := httptest.NewRequest("POST", "/api/repos", body)
	addReq.Header.Set("Content-Type", "application/json")
	addW := httptest.NewRecorder()
	s.handleAddRepo(addW, addReq)

	var addResp repoResponse
	if err := json.NewDecoder(addW.Body).Decode(&addResp); err != nil {
		t.Fatalf("failed to decode add response: %v", err)
	}
	waitForRegistered(t, s, addResp.ID)

	req := httptest.NewRequest("DELETE", "/api/repos/"+addResp.ID, nil)
	w := httptest.NewRecorder()

	s.handleRemoveRepo(w, req, addResp.ID)

	if w.Code != http.StatusNoContent {
		t.Errorf("status code = %d, want %d; body: %s", w.Code, http.StatusNoContent, w.Body.String())
	}

	listReq := httptest.NewRequest("GET", "/api/repos", nil)
	listW := httptest.NewRecorder()
	s.handleListRepos(listW, listReq)

	var repos []repoResponse
	if err := json.NewDecoder(listW.Body).Decode(&repos); err != nil {
		t.Fatalf("failed to decode list response: %v", err)
	}
	if len(repos) != 0 {
		t.Errorf("got %d repos after removal, want 0", len(repos))
	}
}

func TestRepoHandlers_LocalMode(t *testing.T) {
	// In local mode, all repo management endpoints return 404
	s := newTestServer(t)

	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		handler func(http.ResponseWriter, *http.Request)
	}{
		{"add repo", "POST", "/api/repos", `{"sourcePath":"/tmp/example"}`, s.handleAddRepo},
		{"list repos", "GET", "/api/repos", "", s.handleListRepos},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.body != "" {
				req = httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			} else {
				req = httptest.NewRequest(tt.method, tt.path, nil)
			}
			w := httptest.NewRecorder()

			tt.handler(w, req)

			if w.Code != http.StatusNotFound {
				t.Errorf("status code = %d, want %d", w.Code, http.StatusNotFound)
			}
		})
	}

	t.Run("repo status", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/repos/test/status", nil)
		w := httptest.NewRecorder()
		s.handleRepoStatus(w, req, "test")
		if w.Code != http.StatusNotFound {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("remove repo", func(t *testing.T) {
		req := httptest.NewRequest("DELETE", "/api/repos/test", nil)
		w := httptest.NewRecorder()
		s.handleRemoveRepo(w, req, "test")
		if w.Code != http.StatusNotFound {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}
