package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"specloom/internal/domain"
	"specloom/internal/manifest"
	"specloom/internal/storage"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, jwtSecret string) *testServer {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "specs", "042-demo", "manifest.json")
	store := manifest.New(storage.File{})
	if _, err := store.Init(ctx, path, manifest.InitOptions{ID: "042-demo", Title: "Demo", Actor: "tester"}); err != nil {
		t.Fatalf("init manifest: %v", err)
	}
	for _, sub := range []struct {
		id      string
		depends []string
	}{
		{id: "001-parser"},
		{id: "002-eval", depends: []string{"001-parser"}},
	} {
		if _, err := store.AddSubSpec(ctx, path, manifest.AddSubSpecOptions{
			ID: sub.id, Title: sub.id, Depends: sub.depends, Actor: "tester",
		}); err != nil {
			t.Fatalf("add %s: %v", sub.id, err)
		}
	}
	if err := store.UpdatePhase(ctx, path, "001-parser", domain.PhaseSpecify, domain.StatusComplete, "tester"); err != nil {
		t.Fatalf("seed phase: %v", err)
	}

	handler, err := New(Config{
		Store:        store,
		ManifestPath: path,
		BasePath:     "/v0",
		Auth:         AuthConfig{JWTSecret: jwtSecret},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func get(t *testing.T, client *http.Client, url, token string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func signToken(t *testing.T, secret, subject string, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, "")
	res, data := get(t, srv.Client(), srv.URL+"/v0/health", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestManifestAndSummary(t *testing.T) {
	srv := newTestServer(t, "")
	res, data := get(t, srv.Client(), srv.URL+"/v0/manifest", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("manifest status %d: %s", res.StatusCode, string(data))
	}
	var m domain.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if m.MetaSpec.ID != "042-demo" || len(m.SubSpecs) != 2 {
		t.Fatalf("unexpected manifest: %+v", m)
	}

	res, data = get(t, srv.Client(), srv.URL+"/v0/summary", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("summary status %d: %s", res.StatusCode, string(data))
	}
	var sum struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(data, &sum); err != nil || sum.Summary == "" {
		t.Fatalf("empty summary: %v %s", err, string(data))
	}
}

func TestReadyEndpoint(t *testing.T) {
	srv := newTestServer(t, "")
	res, data := get(t, srv.Client(), srv.URL+"/v0/phases/plan/ready", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ready status %d: %s", res.StatusCode, string(data))
	}
	var body struct {
		Phase string   `json:"phase"`
		Ready []string `json:"ready"`
		Next  string   `json:"next"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Ready) != 1 || body.Ready[0] != "001-parser" || body.Next != "001-parser" {
		t.Fatalf("unexpected ready body: %+v", body)
	}

	// implement is gated on scheduling, so nothing is ready
	res, data = get(t, srv.Client(), srv.URL+"/v0/phases/implement/ready", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("implement ready status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &body)
	if len(body.Ready) != 0 {
		t.Fatalf("implement should not be ready: %+v", body)
	}

	res, data = get(t, srv.Client(), srv.URL+"/v0/phases/deploy/ready", "")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown phase, got %d: %s", res.StatusCode, string(data))
	}
}

func TestCompleteEndpoint(t *testing.T) {
	srv := newTestServer(t, "")
	res, data := get(t, srv.Client(), srv.URL+"/v0/phases/specify/complete", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}
	var body struct {
		Complete bool `json:"complete"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Complete {
		t.Fatalf("002-eval specify is pending, phase must not be complete")
	}
}

func TestAuthRequired(t *testing.T) {
	const secret = "test-secret"
	srv := newTestServer(t, secret)

	// health stays open
	res, _ := get(t, srv.Client(), srv.URL+"/v0/health", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", res.StatusCode)
	}

	res, data := get(t, srv.Client(), srv.URL+"/v0/manifest", "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d: %s", res.StatusCode, string(data))
	}

	res, data = get(t, srv.Client(), srv.URL+"/v0/manifest", "not-a-token")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d: %s", res.StatusCode, string(data))
	}

	expired := signToken(t, secret, "tester", time.Now().Add(-time.Hour))
	res, data = get(t, srv.Client(), srv.URL+"/v0/manifest", expired)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d: %s", res.StatusCode, string(data))
	}

	token := signToken(t, secret, "tester", time.Now().Add(time.Hour))
	res, data = get(t, srv.Client(), srv.URL+"/v0/manifest", token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d: %s", res.StatusCode, string(data))
	}
}
