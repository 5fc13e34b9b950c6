package embeddings

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeRoundTrip(t *testing.T) {
	vec := []float32{0.1, -2.5, 0, 1e-7, 42}

	data := Serialize(vec)
	assert.Len(t, data, len(vec)*4)

	got, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestDeserializeBadLength(t *testing.T) {
	_, err := Deserialize([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	same, err := CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, same, 1e-9)

	orthogonal, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, orthogonal, 1e-9)

	opposite, err := CosineSimilarity([]float32{1, 0}, []float32{-1, 0})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, opposite, 1e-9)

	zero, err := CosineSimilarity([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, zero)

	_, err = CosineSimilarity([]float32{1}, []float32{1, 2})
	require.Error(t, err)
}

func TestOpenAIEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)

		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, 4, req.Dimensions)

		fmt.Fprint(w, `{"data": [{"embedding": [0.1, 0.2, 0.3, 0.4]}]}`)
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(srv.URL, "key", "text-embedding-3-small", 4)
	vec, err := e.Embed(context.Background(), "Medieval Madness by Williams from 1997")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, vec)
}

func TestOpenAIEmbedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "invalid api key"}}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(srv.URL, "bad", "text-embedding-3-small", 4)
	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		fmt.Fprint(w, `{"embeddings": [[1, 0, 0]]}`)
	}))
	t.Cleanup(srv.Close)

	e := NewOllamaEmbedder(srv.URL, "nomic-embed-text")
	vec, err := e.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, vec)
}
