package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/zubi-app/zubi/pkg/speech"
)

type capturePlayer struct {
	mu     sync.Mutex
	played [][]byte
	err    error
	block  chan struct{} // when non-nil, Play waits for ctx or release
}

func (p *capturePlayer) Play(ctx context.Context, pcm []byte) error {
	p.mu.Lock()
	p.played = append(p.played, append([]byte(nil), pcm...))
	block := p.block
	err := p.err
	p.mu.Unlock()

	if block != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-block:
		}
	}
	return err
}

func (p *capturePlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}

func ttsServer(t *testing.T, audio []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tts/bytes" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer ck-test" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Cartesia-Version"); got == "" {
			t.Error("Cartesia-Version header missing")
		}
		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.OutputFormat.Container != "raw" || req.OutputFormat.Encoding != "pcm_s16le" {
			t.Errorf("output format = %+v, want raw pcm", req.OutputFormat)
		}
		_, _ = w.Write(audio)
	}))
}

func waitCallback(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("no playback callback")
		return nil
	}
}

func TestSpeakPlaysSynthesizedAudio(t *testing.T) {
	audio := bytes.Repeat([]byte{0x01, 0x02}, 256)
	srv := ttsServer(t, audio)
	defer srv.Close()

	player := &capturePlayer{}
	s := New(Config{APIKey: "ck-test", BaseURL: srv.URL}, player)

	done := make(chan error, 1)
	started := false
	s.Speak(testContext(t), "Hello little friend!", speech.Callbacks{
		OnStart: func() { started = true },
		OnEnd:   func() { done <- nil },
		OnError: func(err error) { done <- err },
	})

	if err := waitCallback(t, done); err != nil {
		t.Fatalf("playback error: %v", err)
	}
	if !started {
		t.Error("OnStart must fire before playback")
	}
	if player.count() != 1 || !bytes.Equal(player.played[0], audio) {
		t.Errorf("player got %d clips", player.count())
	}
}

func TestSpeakPassesDeliveryTuning(t *testing.T) {
	var got ttsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte{0, 0})
	}))
	defer srv.Close()

	s := New(Config{APIKey: "ck-test", BaseURL: srv.URL, Speed: 0.8, Volume: 1.2}, &capturePlayer{})

	done := make(chan error, 1)
	s.Speak(testContext(t), "hi", speech.Callbacks{
		OnEnd:   func() { done <- nil },
		OnError: func(err error) { done <- err },
	})
	if err := waitCallback(t, done); err != nil {
		t.Fatalf("playback error: %v", err)
	}

	if got.GenerationConfig == nil {
		t.Fatal("generation config not sent")
	}
	if got.GenerationConfig.Speed != 0.8 || got.GenerationConfig.Volume != 1.2 {
		t.Errorf("generation config = %+v", got.GenerationConfig)
	}
}

func TestSpeakReportsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, "invalid api key")
	}))
	defer srv.Close()

	s := New(Config{APIKey: "ck-bad", BaseURL: srv.URL}, &capturePlayer{})

	done := make(chan error, 1)
	s.Speak(testContext(t), "hi", speech.Callbacks{
		OnEnd:   func() { done <- nil },
		OnError: func(err error) { done <- err },
	})

	if err := waitCallback(t, done); err == nil {
		t.Fatal("OnError must fire on an upstream failure")
	}
}

func TestSpeakReportsPlayerError(t *testing.T) {
	srv := ttsServer(t, []byte{0, 0})
	defer srv.Close()

	player := &capturePlayer{err: errors.New("device gone")}
	s := New(Config{APIKey: "ck-test", BaseURL: srv.URL}, player)

	done := make(chan error, 1)
	s.Speak(testContext(t), "hi", speech.Callbacks{
		OnEnd:   func() { done <- nil },
		OnError: func(err error) { done <- err },
	})

	if err := waitCallback(t, done); err == nil {
		t.Fatal("OnError must fire when the device fails")
	}
}

func TestStopPreemptsPlaybackAsFinished(t *testing.T) {
	srv := ttsServer(t, []byte{0, 0})
	defer srv.Close()

	player := &capturePlayer{block: make(chan struct{})}
	s := New(Config{APIKey: "ck-test", BaseURL: srv.URL}, player)

	done := make(chan error, 1)
	s.Speak(testContext(t), "a very long story", speech.Callbacks{
		OnEnd:   func() { done <- nil },
		OnError: func(err error) { done <- err },
	})

	// Let the clip reach the player, then cut it off.
	deadline := time.After(3 * time.Second)
	for player.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("playback never started")
		case <-time.After(5 * time.Millisecond):
		}
	}
	s.Stop()

	// A cancelled clip still counts as finished for turn-taking.
	if err := waitCallback(t, done); err != nil {
		t.Fatalf("cancelled clip reported error: %v", err)
	}
}
