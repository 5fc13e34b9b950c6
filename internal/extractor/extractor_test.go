package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

func openAIServer(t *testing.T, answer string) *OpenAIExtractor {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": answer}},
			},
		}
		writeJSON(t, w, resp)
	}))
	t.Cleanup(srv.Close)
	return NewOpenAIExtractor(srv.URL, "test-key", "gpt-4o-mini", testLogger())
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, mustJSON(t, v))
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestOpenAIExtract(t *testing.T) {
	answer := `{
		"ad": {
			"title": "Flipper Medieval Madness",
			"amount": 850000,
			"currency": "EUR",
			"city": "Lyon",
			"zipcode": "69003",
			"seller": "Jean",
			"seller_url": "https://www.leboncoin.fr/profil/abc"
		},
		"product": {"name": "Medieval Madness", "manufacturer": "Williams", "year": "1997"}
	}`
	e := openAIServer(t, answer)

	result, err := e.Extract(context.Background(), "# Flipper Medieval Madness a vendre")
	require.NoError(t, err)

	require.NotNil(t, result.Ad.Title)
	assert.Equal(t, "Flipper Medieval Madness", *result.Ad.Title)
	require.NotNil(t, result.Ad.Amount)
	assert.Equal(t, 850000, *result.Ad.Amount)
	require.NotNil(t, result.Ad.SellerURL)
	assert.Equal(t, "https://www.leboncoin.fr/profil/abc", *result.Ad.SellerURL)

	require.NotNil(t, result.Product)
	assert.Equal(t, "Medieval Madness", result.Product.Name)
	require.NotNil(t, result.Product.Manufacturer)
	assert.Equal(t, "Williams", *result.Product.Manufacturer)
}

func TestOpenAIExtractNoProduct(t *testing.T) {
	e := openAIServer(t, `{"ad": {"title": "Baby-foot"}, "product": null}`)

	result, err := e.Extract(context.Background(), "baby-foot en bon etat")
	require.NoError(t, err)
	assert.Nil(t, result.Product)
	require.NotNil(t, result.Ad.Title)
}

func TestOpenAIExtractFencedJSON(t *testing.T) {
	e := openAIServer(t, "```json\n{\"ad\": {\"title\": \"ok\"}, \"product\": null}\n```")

	result, err := e.Extract(context.Background(), "content")
	require.NoError(t, err)
	require.NotNil(t, result.Ad.Title)
	assert.Equal(t, "ok", *result.Ad.Title)
}

func TestOpenAIExtractEmptyResponse(t *testing.T) {
	e := openAIServer(t, "")

	_, err := e.Extract(context.Background(), "content")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAIExtractInvalidJSON(t *testing.T) {
	e := openAIServer(t, "I could not find a pinball machine in this ad.")

	_, err := e.Extract(context.Background(), "content")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestOpenAIExtractServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	e := NewOpenAIExtractor(srv.URL, "key", "gpt-4o-mini", testLogger())

	_, err := e.Extract(context.Background(), "content")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestProductDroppedWithoutName(t *testing.T) {
	result, err := parseExtraction(`{"ad": {}, "product": {"manufacturer": "Williams"}}`)
	require.NoError(t, err)
	assert.Nil(t, result.Product)
}

func writeFieldMap(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "map.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestJSONPathExtract(t *testing.T) {
	mapFile := writeFieldMap(t, `{
		"ad": {
			"title": "subject",
			"amount": "price_cents",
			"city": "location.city",
			"zipcode": "location.zipcode",
			"seller": "owner.name",
			"seller_url": "owner.url"
		},
		"product": {
			"name": "attributes.model",
			"manufacturer": "attributes.brand",
			"year": "attributes.year"
		}
	}`)
	e, err := NewJSONPathExtractor(mapFile)
	require.NoError(t, err)

	content := `{
		"subject": "Flipper Attack from Mars",
		"price_cents": 720000,
		"location": {"city": "Nantes", "zipcode": "44000"},
		"owner": {"name": "Marie", "url": "https://www.leboncoin.fr/profil/xyz"},
		"attributes": {"model": "Attack from Mars", "brand": "Bally", "year": 1995}
	}`
	result, err := e.Extract(context.Background(), content)
	require.NoError(t, err)

	require.NotNil(t, result.Ad.Title)
	assert.Equal(t, "Flipper Attack from Mars", *result.Ad.Title)
	require.NotNil(t, result.Ad.Amount)
	assert.Equal(t, 720000, *result.Ad.Amount)

	require.NotNil(t, result.Product)
	assert.Equal(t, "Attack from Mars", result.Product.Name)
	require.NotNil(t, result.Product.Year)
	assert.Equal(t, "1995", *result.Product.Year)
}

func TestJSONPathExtractMissingProductName(t *testing.T) {
	mapFile := writeFieldMap(t, `{
		"ad": {"title": "subject"},
		"product": {"name": "attributes.model", "manufacturer": "attributes.brand"}
	}`)
	e, err := NewJSONPathExtractor(mapFile)
	require.NoError(t, err)

	result, err := e.Extract(context.Background(), `{"subject": "hello", "attributes": {"brand": "Stern"}}`)
	require.NoError(t, err)
	assert.Nil(t, result.Product)
	require.NotNil(t, result.Ad.Title)
}

func TestJSONPathExtractInvalidContent(t *testing.T) {
	mapFile := writeFieldMap(t, `{"ad": {"title": "subject"}, "product": {}}`)
	e, err := NewJSONPathExtractor(mapFile)
	require.NoError(t, err)

	_, err = e.Extract(context.Background(), "<html>not json</html>")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}
