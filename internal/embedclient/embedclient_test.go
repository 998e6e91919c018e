package embedclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmbed_EmptyTextSkipsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", BaseURL: srv.URL, ModelName: "m", Dimensions: 4})
	vec, err := c.Embed(context.Background(), TaskQuery, "")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if called {
		t.Error("expected no HTTP call for empty text")
	}
	if len(vec) != 4 {
		t.Errorf("expected zero vector of dimension 4, got %d", len(vec))
	}
}

func TestEmbed_SendsTaskType(t *testing.T) {
	var gotTaskType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			TaskType string `json:"task_type"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotTaskType = body.TaskType

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"embedding": []float32{0.1, 0.2}, "index": 0},
			},
			"model": "m",
		})
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", BaseURL: srv.URL, ModelName: "m", Dimensions: 2})
	vec, err := c.Embed(context.Background(), TaskDocument, "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if gotTaskType != "document" {
		t.Errorf("expected task_type=document, got %q", gotTaskType)
	}
	if len(vec) != 2 {
		t.Errorf("expected a 2-dim vector, got %d", len(vec))
	}
}

func TestEmbedBatch_PreservesOrderAndZerosEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"embedding": []float32{2}, "index": 1},
				{"embedding": []float32{1}, "index": 0},
			},
		})
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", BaseURL: srv.URL, ModelName: "m", Dimensions: 1})
	vecs, err := c.EmbedBatch(context.Background(), TaskDocument, []string{"a", "", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 results, got %d", len(vecs))
	}
	if vecs[1][0] != 0 {
		t.Errorf("expected zero vector for empty input, got %v", vecs[1])
	}
}

func TestEmbed_ProviderErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("overloaded"))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", BaseURL: srv.URL, ModelName: "m", Dimensions: 2})
	_, err := c.Embed(context.Background(), TaskQuery, "hello")
	if err == nil {
		t.Fatal("expected an error on non-2xx response")
	}
}

func TestEnabled(t *testing.T) {
	if (New(Config{})).Enabled() {
		t.Error("expected Enabled() false with no API key")
	}
	if !(New(Config{APIKey: "k"})).Enabled() {
		t.Error("expected Enabled() true with an API key")
	}
}
