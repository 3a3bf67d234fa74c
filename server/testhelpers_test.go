package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/GoCodeAlone/cairn/config"
	"github.com/GoCodeAlone/cairn/depgraph"
	"github.com/GoCodeAlone/cairn/internal/metrics"
	"github.com/GoCodeAlone/cairn/internal/service"
	"github.com/GoCodeAlone/cairn/server/events"
	"github.com/GoCodeAlone/cairn/task"
)

const testSecret = "test-secret-key-1234567890"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	cfg := *config.DefaultConfig()
	cfg.Server.Addr = ":0"
	cfg.Auth.AdminPassHash = string(hash)
	cfg.Auth.JWTSecret = testSecret
	cfg.Auth.TokenTTL = time.Hour
	return cfg
}

// newTestServer wires a server against a temp SQLite store.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	f, err := os.CreateTemp("", "cairn-server-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	store, err := task.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := quietLogger()
	m := metrics.New()
	hub := events.NewHub(logger)
	hub.SetObserver(m)
	orch := depgraph.New(depgraph.NewStoreRepository(store),
		depgraph.WithLogger(logger),
		depgraph.WithObserver(m))

	s := New(testConfig(t), "test", logger)
	s.SetService(service.New(store, orch, hub, logger))
	s.SetHub(hub)
	s.SetMetrics(m)
	return s
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

// login performs a password login and returns the token.
func login(t *testing.T, s *Server) string {
	t.Helper()
	body := `{"username":"admin","password":"secret"}`
	rr := serve(s, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rr.Code, rr.Body.String())
	}
	var resp loginResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp.Token
}

func authed(method, path, token, body string) *http.Request {
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}
