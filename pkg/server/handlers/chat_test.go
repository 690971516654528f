package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zubi-app/zubi/pkg/chat"
	"github.com/zubi-app/zubi/pkg/server/chatloop"
	"github.com/zubi-app/zubi/pkg/server/config"
)

type fakeRunner struct {
	events  []chat.StreamEvent
	err     error
	history []chat.Message
	called  bool
}

func (r *fakeRunner) Run(_ context.Context, history []chat.Message, emit chatloop.EmitFunc) error {
	r.called = true
	r.history = history
	for _, ev := range r.events {
		if err := emit(ev); err != nil {
			return err
		}
	}
	return r.err
}

func testConfig() config.Config {
	return config.Config{
		OpenAIAPIKey: "sk-test",
		MaxBodyBytes: 1 << 20,
		MaxMessages:  8,
	}
}

func postChat(t *testing.T, h ChatHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChatRejectsNonPost(t *testing.T) {
	h := ChatHandler{Config: testConfig(), Runner: &fakeRunner{}}
	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestChatRejectsMissingMessages(t *testing.T) {
	runner := &fakeRunner{}
	h := ChatHandler{Config: testConfig(), Runner: runner}

	for _, body := range []string{`{}`, `not json`, `{"messages": "nope"}`} {
		rec := postChat(t, h, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
		var resp map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("body %q: error response not JSON: %v", body, err)
		}
		if resp["error"] != "messages array is required" {
			t.Errorf("body %q: error = %q", body, resp["error"])
		}
	}
	if runner.called {
		t.Error("runner must not run on invalid input")
	}
}

func TestChatEmptyMessagesIsGreeting(t *testing.T) {
	runner := &fakeRunner{events: []chat.StreamEvent{
		{Type: chat.EventText, Delta: "Hi friend!"},
		{Type: chat.EventDone},
	}}
	h := ChatHandler{Config: testConfig(), Runner: runner}

	rec := postChat(t, h, `{"messages": []}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !runner.called {
		t.Fatal("greeting request must reach the runner")
	}
	if len(runner.history) != 0 {
		t.Errorf("history = %+v, want empty", runner.history)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `data: {"type":"text","delta":"Hi friend!"}`) {
		t.Errorf("text frame missing from body:\n%s", body)
	}
	if !strings.Contains(body, `data: {"type":"done"}`) {
		t.Errorf("done frame missing from body:\n%s", body)
	}
}

func TestChatRejectsTooManyMessages(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessages = 2
	h := ChatHandler{Config: cfg, Runner: &fakeRunner{}}

	body := `{"messages":[{"role":"user","content":"a"},{"role":"assistant","content":"b"},{"role":"user","content":"c"}]}`
	rec := postChat(t, h, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChatRejectsInvalidRole(t *testing.T) {
	h := ChatHandler{Config: testConfig(), Runner: &fakeRunner{}}
	rec := postChat(t, h, `{"messages":[{"role":"system","content":"sneaky"}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChatMissingAPIKeyFailsBeforeStreaming(t *testing.T) {
	cfg := testConfig()
	cfg.OpenAIAPIKey = ""
	runner := &fakeRunner{}
	h := ChatHandler{Config: cfg, Runner: runner}

	rec := postChat(t, h, `{"messages": []}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if runner.called {
		t.Error("runner must not run without credentials")
	}
	if ct := rec.Header().Get("Content-Type"); strings.HasPrefix(ct, "text/event-stream") {
		t.Error("config failure must not start a stream")
	}
}

func TestChatHistoryForwardedToRunner(t *testing.T) {
	runner := &fakeRunner{events: []chat.StreamEvent{{Type: chat.EventDone}}}
	h := ChatHandler{Config: testConfig(), Runner: runner}

	body := `{"messages":[{"role":"user","content":"tell me about lions"}]}`
	if rec := postChat(t, h, body); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(runner.history) != 1 || runner.history[0].Content != "tell me about lions" {
		t.Errorf("history = %+v", runner.history)
	}
}
