package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/none9527/llmcached/internal/application"
	"github.com/none9527/llmcached/internal/infrastructure/config"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// testRouter 组装一个连到指定上游的完整路由
func testRouter(t *testing.T, upstreamURL string) http.Handler {
	t.Helper()
	cfg := &config.Config{
		DatabaseURL:           filepath.Join(t.TempDir(), "cache.db"),
		CacheHitPoolSize:      2,
		CacheMissPoolSize:     2,
		MaxConcurrentRequests: 4,
		APIHeaders:            map[string]string{"Content-Type": "application/json"},
		Cache:                 config.CacheConfig{Enabled: true, MaxItems: 10, BatchWriteSize: 5},
		HTTPClient: config.HTTPClientConfig{
			TimeoutSeconds:         5,
			ConnectTimeoutSeconds:  2,
			TCPKeepaliveSeconds:    60,
			PoolIdleTimeoutSeconds: 180,
			PoolMaxIdlePerHost:     10,
			MaxRedirects:           5,
		},
		Proxy: config.ProxyConfig{
			RequestTimeoutSeconds:      5,
			ConnectTimeoutSeconds:      2,
			ResponseReadTimeoutSeconds: 5,
		},
		Database: config.DatabaseConfig{
			MaxConnections:     5,
			MinConnections:     1,
			MaxLifetimeSeconds: 1800,
			IdleTimeoutSeconds: 600,
		},
		APIDefaults: config.APIDefaultsConfig{
			DefaultRole:              "assistant",
			DefaultObject:            "chat.completion",
			DefaultFinishReason:      "unknown",
			DefaultSystemFingerprint: "unknown",
			CacheSystemFingerprint:   "cached",
			CacheMaxSizeBytes:        5 * 1024 * 1024,
		},
	}
	if upstreamURL != "" {
		cfg.APIEndpoints = []config.EndpointConfig{{URL: upstreamURL, Weight: 1}}
	}

	app, err := application.New(cfg, testLogger())
	if err != nil {
		t.Fatalf("application.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		app.Stop(ctx)
	})

	srv := NewServer(Config{Host: "127.0.0.1", Port: 0, Mode: "release"},
		app.Dispatcher, testLogger())
	return srv.server.Handler
}

// === Health ===

func TestHealth(t *testing.T) {
	router := testRouter(t, "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("health: got %d, want 200", w.Code)
	}
}

// === Chat completions ===

func TestChatCompletions_InvalidBody(t *testing.T) {
	router := testRouter(t, "")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader("not json"))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid body: got %d, want 400", w.Code)
	}
}

func TestChatCompletions_BothPrefixes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop",
			"message":{"role":"assistant","content":"pong"}}]}`))
	}))
	defer upstream.Close()

	router := testRouter(t, upstream.URL)
	body := `{"model":"m","messages":[{"role":"user","content":"ping"}]}`

	for _, path := range []string{"/chat/completions", "/v1/chat/completions"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("%s: got %d, want 200 (%s)", path, w.Code, w.Body.String())
		}
		var resp struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: decode: %v", path, err)
		}
		if resp.Choices[0].Message.Content != "pong" {
			t.Errorf("%s: content got %q", path, resp.Choices[0].Message.Content)
		}
	}
}

func TestChatCompletions_NoEndpoint503(t *testing.T) {
	router := testRouter(t, "")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"m","messages":[{"role":"user","content":"q"}]}`))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("no endpoint: got %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), "error") {
		t.Error("error body should carry a reason")
	}
}

// === Passthrough ===

func TestModels_Passthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("upstream path: got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"id":"m1"}]}`))
	}))
	defer upstream.Close()

	router := testRouter(t, upstream.URL)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("models: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "m1") {
		t.Errorf("models body not forwarded: %s", w.Body.String())
	}
}

func TestEmbeddings_Passthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("upstream path: got %s", r.URL.Path)
		}
		w.Write([]byte(`{"object":"list","data":[{"embedding":[0.1]}]}`))
	}))
	defer upstream.Close()

	router := testRouter(t, upstream.URL)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/embeddings",
		strings.NewReader(`{"model":"e","input":"text"}`))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("embeddings: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "embedding") {
		t.Errorf("embeddings body not forwarded: %s", w.Body.String())
	}
}
