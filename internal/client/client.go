// Package client holds the typed HTTP clients the orchestrator uses
// to talk to the learning, response and ego services. All services
// live in one binary by default, but every call still goes over HTTP
// so the services can be split across processes by pointing the
// configured URLs elsewhere.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// UpstreamError reports a sibling service that was unreachable or
// answered non-2xx. Status is 0 when the request never got a response.
type UpstreamError struct {
	Service string
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s service unreachable: %s", e.Service, e.Message)
	}
	return fmt.Sprintf("%s service returned %d: %s", e.Service, e.Status, e.Message)
}

type base struct {
	service string
	baseURL string
	http    *http.Client
}

func newBase(service, baseURL string) base {
	return base{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (b base) postJSON(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", b.service, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", b.service, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return &UpstreamError{Service: b.service, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &UpstreamError{Service: b.service, Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &UpstreamError{Service: b.service, Status: resp.StatusCode, Message: "bad response body: " + err.Error()}
	}
	return nil
}

// Learning enqueues ingestion work on the learning service.
type Learning struct{ base }

func NewLearning(baseURL string) *Learning {
	return &Learning{newBase("learning", baseURL)}
}

type LearnRequest struct {
	Content        string `json:"content"`
	Source         string `json:"source,omitempty"`
	Type           string `json:"type,omitempty"`
	UserID         string `json:"userId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
}

type LearnResponse struct {
	TaskID string `json:"taskId"`
}

func (l *Learning) Learn(ctx context.Context, req LearnRequest) (LearnResponse, error) {
	var out LearnResponse
	if err := l.postJSON(ctx, "/api/learn", req, &out); err != nil {
		return LearnResponse{}, err
	}
	return out, nil
}

// Response asks the response service for a reply to a message.
type Response struct{ base }

func NewResponse(baseURL string) *Response {
	return &Response{newBase("response", baseURL)}
}

type GenerateRequest struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId,omitempty"`
	UserID         string `json:"userId,omitempty"`
}

type GenerateMeta struct {
	Confidence          float64 `json:"confidence"`
	UsedDefaultResponse bool    `json:"usedDefaultResponse"`
	UsedTemplate        bool    `json:"usedTemplate"`
	KnowledgeCount      int     `json:"knowledgeCount"`
}

type GenerateResponse struct {
	MessageID string       `json:"messageId"`
	Response  string       `json:"response"`
	Meta      GenerateMeta `json:"meta"`
}

func (r *Response) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	var out GenerateResponse
	if err := r.postJSON(ctx, "/api/generate", req, &out); err != nil {
		return GenerateResponse{}, err
	}
	return out, nil
}

// Ego carries the best-effort notifications into the ego service.
type Ego struct{ base }

func NewEgo(baseURL string) *Ego {
	return &Ego{newBase("ego", baseURL)}
}

// NotifyMessage hands a processed message to the ego service for
// background analysis.
func (e *Ego) NotifyMessage(ctx context.Context, messageID string) error {
	return e.postJSON(ctx, "/api/ego/learn", map[string]string{"messageId": messageID}, nil)
}

// Introspect asks the ego service to analyze one conversation.
func (e *Ego) Introspect(ctx context.Context, conversationID string) error {
	return e.postJSON(ctx, "/api/ego/introspect", map[string]string{"conversationId": conversationID}, nil)
}
