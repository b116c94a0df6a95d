package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunterwarburton/kbot/internal/core"
	"github.com/hunterwarburton/kbot/internal/tokens"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, 0.0},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.5},
		{"zero left", []float32{0, 0, 0}, []float32{1, 2, 3}, 0.0},
		{"zero right", []float32{1, 2, 3}, []float32{0, 0, 0}, 0.0},
		{"mismatched lengths", []float32{1, 2}, []float32{1, 2, 3}, 0.0},
		{"both empty", nil, nil, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-9)
		})
	}
}

func newEmbedServer(t *testing.T, dim int, fail *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail != nil && *fail > 0 {
			*fail--
			http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
			return
		}
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type datum struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]datum, len(req.Input))
		for i := range req.Input {
			vec := make([]float32, dim)
			vec[0] = float32(i + 1)
			data[i] = datum{Index: i, Embedding: vec}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
}

func newTestClient(t *testing.T, url string, dim int) *Client {
	t.Helper()
	counter, err := tokens.NewCounter()
	require.NoError(t, err)
	return NewClient(url, "test-key", "text-embedding-ada-002", dim, 5*time.Second, counter)
}

func TestEmbedBatch(t *testing.T) {
	srv := newEmbedServer(t, 4, nil)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 4)
	vectors, err := c.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(2), vectors[1][0])
}

func TestEmbedRetriesOnceThenSucceeds(t *testing.T) {
	failures := 1
	srv := newEmbedServer(t, 4, &failures)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 4)
	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, float32(1), vec[0])
	assert.Zero(t, failures)
}

func TestEmbedDegradesToZeroVector(t *testing.T) {
	failures := 10 // never recovers within one retry
	srv := newEmbedServer(t, 4, &failures)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 4)
	vec, err := c.Embed(context.Background(), "hello")

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTransient)
	require.Len(t, vec, 4)
	for _, v := range vec {
		assert.Zero(t, v)
	}
	// A degraded vector ranks as neutral similarity everywhere.
	assert.Zero(t, Cosine(vec, []float32{1, 2, 3, 4}))
}

func TestEmbedDimensionMismatchIsError(t *testing.T) {
	srv := newEmbedServer(t, 4, nil)
	defer srv.Close()

	// Client expects 8 dims but the server returns 4.
	c := newTestClient(t, srv.URL, 8)
	vec, err := c.Embed(context.Background(), "hello")

	require.Error(t, err)
	require.Len(t, vec, 8)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}
