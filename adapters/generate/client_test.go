package generate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pizzacorruption/trumpswap-sub001/domain/ledger"
	"github.com/pizzacorruption/trumpswap-sub001/ports"
)

func TestGenerate_Success(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/generate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("auth = %q", auth)
		}
		if trace := r.Header.Get("X-Trace-Id"); trace != "req-123" {
			t.Errorf("trace = %q", trace)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(generateResponse{ImageURL: "https://cdn.example.com/out.png"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "test-key"})
	res, err := c.Generate(context.Background(), ports.GenerateRequest{
		Model:      ledger.ModelPremium,
		PhotoURL:   "https://example.com/in.jpg",
		TemplateID: "tpl-7",
		TraceID:    "req-123",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.ImageURL != "https://cdn.example.com/out.png" {
		t.Errorf("ImageURL = %q", res.ImageURL)
	}
	if got.Model != "premium" || got.TemplateID != "tpl-7" {
		t.Errorf("forwarded request = %+v", got)
	}
}

func TestGenerate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-200 status", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"error field", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(generateResponse{Error: "face not found"})
		}},
		{"empty image url", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(generateResponse{})
		}},
		{"garbage body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}},
	}
	for _, tc := range tests {
		srv := httptest.NewServer(tc.handler)
		c := New(Config{BaseURL: srv.URL, APIKey: "test-key"})
		if _, err := c.Generate(context.Background(), ports.GenerateRequest{}); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
		srv.Close()
	}
}

func TestGenerate_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(Config{BaseURL: srv.URL})
	if _, err := c.Generate(ctx, ports.GenerateRequest{}); err == nil {
		t.Error("expected error for cancelled context")
	}
}
