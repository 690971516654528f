package chat

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestEventStreamParsesAndTerminates(t *testing.T) {
	body := io.NopCloser(strings.NewReader(
		"data: {\"type\":\"text\",\"delta\":\"Hi\"}\n\n" +
			"data: garbage\n\n" +
			"data: {\"type\":\"tool\",\"action\":\"highlight\",\"payload\":{}}\n\n" +
			"data: {\"type\":\"done\"}\n\n" +
			"data: {\"type\":\"text\",\"delta\":\"after terminal\"}\n\n",
	))
	s := newEventStream(body)

	var events []StreamEvent
	for {
		ev, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		events = append(events, ev)
	}

	// Unparseable frames are skipped and nothing is read past the terminal.
	if len(events) != 3 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	if events[0].Delta != "Hi" || events[1].Action != "highlight" || events[2].Type != EventDone {
		t.Errorf("events = %+v", events)
	}
}

func TestStreamAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "hello" {
			t.Errorf("messages = %+v", req.Messages)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"type\":\"text\",\"delta\":\"hey\"}\n\ndata: {\"type\":\"done\"}\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	stream, err := c.Stream(testContext(t), []Message{NewMessage(RoleUser, "hello")})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	ev, err := stream.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Type != EventText || ev.Delta != "hey" {
		t.Errorf("event = %+v", ev)
	}
}

func TestStreamNon200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"OpenAI API key not configured"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Stream(testContext(t), nil); err == nil {
		t.Fatal("Stream should fail on a non-200 response")
	} else if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("err = %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Health(testContext(t)); err != nil {
		t.Fatalf("Health: %v", err)
	}

	bad := NewClient(srv.URL + "/nope")
	if err := bad.Health(testContext(t)); err == nil {
		t.Fatal("Health should fail on 404")
	}
}

func TestNewMessageAssignsID(t *testing.T) {
	a := NewMessage(RoleUser, "x")
	b := NewMessage(RoleUser, "x")
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("ids = %q, %q; want unique non-empty", a.ID, b.ID)
	}
}
