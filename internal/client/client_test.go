package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerateDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.MessageID != "msg-1" {
			t.Fatalf("messageId = %q", req.MessageID)
		}
		json.NewEncoder(w).Encode(GenerateResponse{
			MessageID: "msg-1",
			Response:  "Photosynthesis converts sunlight into energy.",
			Meta:      GenerateMeta{Confidence: 0.8, KnowledgeCount: 2},
		})
	}))
	defer srv.Close()

	out, err := NewResponse(srv.URL).Generate(context.Background(), GenerateRequest{MessageID: "msg-1"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Response == "" || out.Meta.Confidence != 0.8 {
		t.Fatalf("unexpected response %+v", out)
	}
}

func TestNon2xxBecomesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewLearning(srv.URL).Learn(context.Background(), LearnRequest{Content: "x"})
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("err = %v, want UpstreamError", err)
	}
	if upstream.Service != "learning" || upstream.Status != http.StatusInternalServerError {
		t.Fatalf("unexpected upstream error %+v", upstream)
	}
}

func TestUnreachableServiceBecomesUpstreamError(t *testing.T) {
	err := NewEgo("http://127.0.0.1:1").NotifyMessage(context.Background(), "msg-1")
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("err = %v, want UpstreamError", err)
	}
	if upstream.Status != 0 {
		t.Fatalf("status = %d, want 0", upstream.Status)
	}
}
