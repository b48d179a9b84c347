package server

import (
	"LlamaLiteClient/internal/config"
	"LlamaLiteClient/internal/service"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type fakeExchanger struct {
	ins  []service.ChatInput
	outs []service.ChatOutput
}

func (f *fakeExchanger) Execute(_ context.Context, in service.ChatInput) service.ChatOutput {
	f.ins = append(f.ins, in)
	if len(f.outs) == 0 {
		return service.ChatOutput{ResponseMessage: "ok", ChatHistory: "[]"}
	}
	out := f.outs[0]
	if len(f.outs) > 1 {
		f.outs = f.outs[1:]
	}
	return out
}

func newTestServer(t *testing.T, cfg *config.Config, node Exchanger) *httptest.Server {
	t.Helper()
	if cfg == nil {
		cfg = config.Defaults()
	}
	s := NewNodeServer(cfg, node, zap.NewNop().Sugar())
	srv := httptest.NewServer(s.srv.Handler)
	t.Cleanup(srv.Close)
	return srv
}

func postChat(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url+"/v1/chat", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func decodePair(t *testing.T, resp *http.Response) chatResponse {
	t.Helper()
	defer resp.Body.Close()
	var pair chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return pair
}

func TestHandleChatFillsDefaults(t *testing.T) {
	f := &fakeExchanger{outs: []service.ChatOutput{{ResponseMessage: "Hi there!", ChatHistory: "[]"}}}
	srv := newTestServer(t, nil, f)

	resp := postChat(t, srv.URL, map[string]string{"prompt": "Hello", "chat_history": "[]"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	pair := decodePair(t, resp)
	if pair.ResponseMessage != "Hi there!" {
		t.Fatalf("response = %q", pair.ResponseMessage)
	}

	if len(f.ins) != 1 {
		t.Fatalf("exchanger called %d times", len(f.ins))
	}
	in := f.ins[0]
	if in.ServerURL != "http://localhost:8080/v1" {
		t.Fatalf("server url = %q, want config default", in.ServerURL)
	}
	if in.SystemPrompt != "You are a helpful AI assistant." {
		t.Fatalf("system prompt = %q, want config default", in.SystemPrompt)
	}
}

func TestHandleChatHonorsOverrides(t *testing.T) {
	f := &fakeExchanger{}
	srv := newTestServer(t, nil, f)

	postChat(t, srv.URL, map[string]string{
		"prompt":        "Hello",
		"server_url":    "http://other:8080/v1",
		"system_prompt": "be brief",
	}).Body.Close()

	in := f.ins[0]
	if in.ServerURL != "http://other:8080/v1" || in.SystemPrompt != "be brief" {
		t.Fatalf("input = %+v", in)
	}
}

func TestHandleChatErrorPairIsStill200(t *testing.T) {
	f := &fakeExchanger{outs: []service.ChatOutput{{
		ResponseMessage: "Error: prompt cannot be empty",
		ChatHistory:     `[{"role":"system","content":"Error occurred: prompt cannot be empty"}]`,
		Err:             errors.New("prompt cannot be empty"),
	}}}
	srv := newTestServer(t, nil, f)

	resp := postChat(t, srv.URL, map[string]string{"prompt": ""})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	pair := decodePair(t, resp)
	if !strings.HasPrefix(pair.ResponseMessage, "Error: ") {
		t.Fatalf("response = %q", pair.ResponseMessage)
	}
}

func TestHandleChatDecodesImages(t *testing.T) {
	f := &fakeExchanger{}
	srv := newTestServer(t, nil, f)

	postChat(t, srv.URL, map[string]any{
		"prompt": "Hello",
		"images": []string{
			base64.StdEncoding.EncodeToString([]byte("img-a")),
			"data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("img-b")),
		},
	}).Body.Close()

	in := f.ins[0]
	if len(in.Images) != 2 {
		t.Fatalf("images = %d, want 2", len(in.Images))
	}
	if string(in.Images[0]) != "img-a" || string(in.Images[1]) != "img-b" {
		t.Fatalf("images = %q, %q", in.Images[0], in.Images[1])
	}
}

func TestHandleChatRejectsBadBase64(t *testing.T) {
	f := &fakeExchanger{}
	srv := newTestServer(t, nil, f)

	resp := postChat(t, srv.URL, map[string]any{"prompt": "Hello", "images": []string{"not base64!!!"}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if len(f.ins) != 0 {
		t.Fatalf("exchanger called on bad input")
	}
}

func TestHandleChatRejectsBadJSON(t *testing.T) {
	srv := newTestServer(t, nil, &fakeExchanger{})

	resp, err := http.Post(srv.URL+"/v1/chat", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleChatMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, nil, &fakeExchanger{})

	resp, err := http.Get(srv.URL + "/v1/chat")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestHandleChatAuthToken(t *testing.T) {
	cfg := config.Defaults()
	cfg.NodeServer.AuthToken = "secret"
	f := &fakeExchanger{}
	srv := newTestServer(t, cfg, f)

	resp := postChat(t, srv.URL, map[string]string{"prompt": "Hello"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}

	raw, _ := json.Marshal(map[string]string{"prompt": "Hello"})
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/chat", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer secret")
	authResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer authResp.Body.Close()
	if authResp.StatusCode != http.StatusOK {
		t.Fatalf("status with token = %d, want 200", authResp.StatusCode)
	}
}

func dialSession(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/session"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSessionCarriesHistoryBetweenExchanges(t *testing.T) {
	firstHistory := `[
  {"role": "user", "content": "Hello"},
  {"role": "assistant", "content": "Hi there!"}
]`
	f := &fakeExchanger{outs: []service.ChatOutput{
		{ResponseMessage: "Hi there!", ChatHistory: firstHistory},
		{ResponseMessage: "Fine!", ChatHistory: "[]"},
	}}
	srv := newTestServer(t, nil, f)
	conn := dialSession(t, srv)

	var resp chatResponse
	if err := conn.WriteJSON(sessionRequest{Prompt: "Hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.ResponseMessage != "Hi there!" {
		t.Fatalf("first response = %q", resp.ResponseMessage)
	}

	if err := conn.WriteJSON(sessionRequest{Prompt: "How are you?"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}

	if len(f.ins) != 2 {
		t.Fatalf("exchanger called %d times", len(f.ins))
	}
	if f.ins[0].ChatHistory != "[]" {
		t.Fatalf("first exchange history = %q, want empty array", f.ins[0].ChatHistory)
	}
	if f.ins[1].ChatHistory != firstHistory {
		t.Fatalf("second exchange history = %q, want adopted history", f.ins[1].ChatHistory)
	}
}

func TestSessionErrorDoesNotClobberHistory(t *testing.T) {
	goodHistory := `[{"role": "assistant", "content": "Hi there!"}]`
	f := &fakeExchanger{outs: []service.ChatOutput{
		{ResponseMessage: "Hi there!", ChatHistory: goodHistory},
		{ResponseMessage: "Error: connection refused", ChatHistory: goodHistory, Err: errors.New("connection refused")},
		{ResponseMessage: "Still here", ChatHistory: "[]"},
	}}
	srv := newTestServer(t, nil, f)
	conn := dialSession(t, srv)

	var resp chatResponse
	for _, prompt := range []string{"Hello", "Again", "And again"} {
		if err := conn.WriteJSON(sessionRequest{Prompt: prompt}); err != nil {
			t.Fatalf("write %q: %v", prompt, err)
		}
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatalf("read %q: %v", prompt, err)
		}
	}

	if f.ins[1].ChatHistory != goodHistory {
		t.Fatalf("second exchange history = %q", f.ins[1].ChatHistory)
	}
	// Неудачный обмен не подменяет историю сессии
	if f.ins[2].ChatHistory != goodHistory {
		t.Fatalf("third exchange history = %q, want preserved %q", f.ins[2].ChatHistory, goodHistory)
	}
}

func TestSessionRejectsBadFrameButSurvives(t *testing.T) {
	f := &fakeExchanger{}
	srv := newTestServer(t, nil, f)
	conn := dialSession(t, srv)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp chatResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(resp.ResponseMessage, "Error: invalid session frame") {
		t.Fatalf("response = %q", resp.ResponseMessage)
	}

	// Сессия продолжает работать
	if err := conn.WriteJSON(sessionRequest{Prompt: "Hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read after bad frame: %v", err)
	}
	if resp.ResponseMessage != "ok" {
		t.Fatalf("response = %q", resp.ResponseMessage)
	}
}

func TestSessionUnauthorized(t *testing.T) {
	cfg := config.Defaults()
	cfg.NodeServer.AuthToken = "secret"
	srv := newTestServer(t, cfg, &fakeExchanger{})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/session"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake response = %+v", resp)
	}
	resp.Body.Close()
}

func TestSessionTrimsToMaxTurns(t *testing.T) {
	s := NewSession("test", 2)
	s.Adopt(`[
  {"role": "user", "content": "one"},
  {"role": "assistant", "content": "two"},
  {"role": "user", "content": "three"}
]`)
	got := s.Current()
	if strings.Contains(got, "one") {
		t.Fatalf("oldest turn kept: %s", got)
	}
	if !strings.Contains(got, "two") || !strings.Contains(got, "three") {
		t.Fatalf("recent turns lost: %s", got)
	}
}

func TestSessionCurrentBeforeFirstExchange(t *testing.T) {
	if got := NewSession("test", 0).Current(); got != "[]" {
		t.Fatalf("Current() = %q, want []", got)
	}
}
