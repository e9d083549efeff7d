package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"specloom/internal/manifest"
	"specloom/internal/server"
	"specloom/internal/storage"
)

func main() {
	ctx := context.Background()
	path := filepath.Join("/tmp/specloom-check2", "specs", "042-demo", "manifest.json")
	store := manifest.New(storage.File{})
	if _, err := store.Init(ctx, path, manifest.InitOptions{
		ID:    "042-demo",
		Title: "Demo meta-spec",
		Actor: "tester",
	}); err != nil {
		panic(err)
	}
	if _, err := store.AddSubSpec(ctx, path, manifest.AddSubSpecOptions{
		ID: "001-parser", Title: "Parser", Actor: "tester",
	}); err != nil {
		panic(err)
	}
	if _, err := store.AddSubSpec(ctx, path, manifest.AddSubSpecOptions{
		ID: "002-eval", Title: "Evaluator", Depends: []string{"001-parser"}, Actor: "tester",
	}); err != nil {
		panic(err)
	}

	jwtSecret := "test-secret"
	h, err := server.New(server.Config{
		Store:        store,
		ManifestPath: path,
		BasePath:     "/v0",
		Auth:         server.AuthConfig{JWTSecret: jwtSecret},
	})
	if err != nil {
		panic(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()

	token := signToken(jwtSecret, "tester", time.Now().Add(time.Hour))
	for _, endpoint := range []string{"/v0/summary", "/v0/phases/specify/ready", "/v0/phases/implement/ready"} {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+endpoint, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			panic(err)
		}
		var resp any
		_ = json.NewDecoder(res.Body).Decode(&resp)
		res.Body.Close()
		fmt.Printf("%s status=%d resp=%v\n", endpoint, res.StatusCode, resp)
	}
}

func signToken(secret, actorID string, expiresAt time.Time) string {
	claims := jwt.RegisteredClaims{
		Subject:   actorID,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		NotBefore: jwt.NewNumericDate(time.Now()),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		panic(err)
	}
	return signed
}
