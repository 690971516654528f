// Package stt implements continuous speech-to-text on Cartesia's streaming
// WebSocket API: PCM frames go up, interim and final transcript segments
// come back, and the recognizer folds them into one growing transcript.
package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zubi-app/zubi/pkg/speech"
)

const (
	cartesiaWSURL   = "wss://api.cartesia.ai/stt/websocket"
	cartesiaVersion = "2025-04-16"

	defaultModel      = "ink-whisper"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// ~128ms of audio per frame at 16kHz 16-bit mono.
	frameBytes = 4096
)

// Config tunes the recognizer. URL overrides the Cartesia endpoint, mainly
// for tests.
type Config struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
	URL        string
}

// Recognizer streams microphone audio to Cartesia and accumulates the
// transcript. Audio is pulled from the Source reader (PCM s16le).
type Recognizer struct {
	cfg    Config
	source io.Reader

	mu        sync.Mutex
	conn      *websocket.Conn
	cancel    context.CancelFunc
	listening bool
	committed strings.Builder
	updates   chan speech.Update
	writeMu   sync.Mutex
}

// New creates a recognizer reading PCM audio from source.
func New(cfg Config, source io.Reader) *Recognizer {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.URL == "" {
		cfg.URL = cartesiaWSURL
	}
	return &Recognizer{cfg: cfg, source: source}
}

// Start dials the streaming session and begins pumping audio.
func (r *Recognizer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listening {
		return fmt.Errorf("recognizer already listening")
	}

	u, err := url.Parse(r.cfg.URL)
	if err != nil {
		return fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("model", r.cfg.Model)
	q.Set("language", r.cfg.Language)
	q.Set("encoding", "pcm_s16le")
	q.Set("sample_rate", fmt.Sprintf("%d", r.cfg.SampleRate))
	q.Set("min_volume", "0.01")
	q.Set("api_key", r.cfg.APIKey)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("X-API-Key", r.cfg.APIKey)
	headers.Set("Cartesia-Version", cartesiaVersion)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			if len(body) > 0 {
				return fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, body)
			}
		}
		return fmt.Errorf("websocket connect: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	r.conn = conn
	r.cancel = cancel
	r.listening = true
	r.updates = make(chan speech.Update, 32)

	go r.sendLoop(sessionCtx, conn)
	go r.readLoop(conn, r.updates)
	return nil
}

// Updates yields growing-transcript updates. The channel is closed when the
// session ends.
func (r *Recognizer) Updates() <-chan speech.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}

// Listening reports whether capture is active.
func (r *Recognizer) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listening
}

// Reset clears the accumulated transcript.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed.Reset()
}

// Stop ends the session. Safe to call whether or not listening.
func (r *Recognizer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.listening {
		return
	}
	r.listening = false
	if r.cancel != nil {
		r.cancel()
	}
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
}

func (r *Recognizer) sendLoop(ctx context.Context, conn *websocket.Conn) {
	buf := make([]byte, frameBytes)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := r.source.Read(buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			r.writeMu.Lock()
			werr := conn.WriteMessage(websocket.BinaryMessage, frame)
			r.writeMu.Unlock()
			if werr != nil {
				return
			}
		}
		if err != nil {
			// Flush what the service is still holding before going away.
			r.writeMu.Lock()
			_ = conn.WriteMessage(websocket.TextMessage, []byte("finalize"))
			r.writeMu.Unlock()
			return
		}
	}
}

// sttMessage is the subset of Cartesia's STT frames we act on.
type sttMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	IsFinal bool   `json:"is_final,omitempty"`
	Message string `json:"message,omitempty"`
}

func (r *Recognizer) readLoop(conn *websocket.Conn, updates chan speech.Update) {
	defer func() {
		r.mu.Lock()
		if r.updates == updates {
			r.listening = false
		}
		r.mu.Unlock()
		close(updates)
	}()

	var interim string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg sttMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "transcript":
			if msg.Text == "" {
				continue
			}
			r.mu.Lock()
			if msg.IsFinal {
				if r.committed.Len() > 0 {
					r.committed.WriteString(" ")
				}
				r.committed.WriteString(strings.TrimSpace(msg.Text))
				interim = ""
			} else {
				interim = strings.TrimSpace(msg.Text)
			}
			full := r.committed.String()
			if interim != "" {
				if full != "" {
					full += " "
				}
				full += interim
			}
			r.mu.Unlock()

			select {
			case updates <- speech.Update{Transcript: full}:
			default:
				// Drop rather than block the socket reader; the next update
				// carries the full transcript anyway.
			}
		case "error":
			return
		case "done":
			return
		}
	}
}
