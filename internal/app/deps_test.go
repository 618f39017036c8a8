package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clip-demo/internal/cache"
	"clip-demo/internal/config"
	"clip-demo/internal/embeddings"
	"clip-demo/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildCache(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		wantErr  bool
		wantNoOp bool
	}{
		{"default none", "", false, true},
		{"explicit none", "none", false, true},
		{"invalid provider", "memcached", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := buildCache(config.Config{CacheProvider: tt.provider}, discardLogger())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			_, isNoOp := c.(*cache.NoOpCache)
			assert.Equal(t, tt.wantNoOp, isNoOp)
		})
	}
}

func TestBuildCacheRedisMissingAddr(t *testing.T) {
	_, err := buildCache(config.Config{CacheProvider: "redis"}, discardLogger())
	assert.Error(t, err)
}

func TestRemoteProviderRequiresEndpoint(t *testing.T) {
	p := Providers(config.Config{})[ProviderRemote]
	_, err := p.Open(context.Background(), model.Manifest{Name: "TextEncoder", Kind: embeddings.KindText, Model: "clip", Dimension: 2})
	assert.Error(t, err)
}

func TestRemoteProviderLoadsBundle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "clip",
			"data":   []map[string]any{{"object": "embedding", "index": 0, "embedding": []float64{0.6, 0.8}}},
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "TextEncoder_float32.bundle")
	require.NoError(t, model.WriteManifest(dir, model.Manifest{
		Name: "TextEncoder_float32", Kind: embeddings.KindText, Provider: ProviderRemote,
		Endpoint: srv.URL + "/v1/", Model: "clip", Dimension: 2,
	}))

	loader := model.NewLoader(discardLogger(), Providers(config.Config{}), model.LoaderOptions{ProbeAttempts: 1})
	h, err := loader.Load(context.Background(), dir, embeddings.KindText)
	require.NoError(t, err)
	defer h.Close()

	enc, err := h.TextEncoder()
	require.NoError(t, err)
	v, err := enc.EncodeText(context.Background(), "a dog")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, []float32(v), 1e-6)
}

func TestDepsClose(t *testing.T) {
	d := Deps{Cache: cache.NewNoOpCache()}
	assert.NoError(t, d.Close())
}
