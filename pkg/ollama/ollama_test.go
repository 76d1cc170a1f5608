package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/complimo/complimo/pkg/llm"
)

func TestEmbedBatch(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req embedReq
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" {
			t.Fatalf("unexpected model %q", req.Model)
		}
		calls++
		json.NewEncoder(w).Encode(embedResp{Embedding: []float64{float64(len(req.Prompt)), 1}})
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3", "nomic-embed-text")
	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "abc"})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 || len(vecs) != 2 || vecs[1][0] != 3 {
		t.Fatalf("unexpected result calls=%d vecs=%v", calls, vecs)
	}
}

func TestEmbedStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := New(srv.URL, "", "m").Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatReq
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Fatal("stream must be disabled")
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != llm.RoleSystem {
			t.Fatalf("unexpected messages %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(chatResp{Message: llm.Message{Role: llm.RoleAssistant, Content: "hello"}})
	}))
	defer srv.Close()

	out, err := New(srv.URL, "llama3", "").Chat(context.Background(), llm.ChatRequest{
		System:   "sys",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != "hello" {
		t.Fatalf("got %q", out)
	}
}
