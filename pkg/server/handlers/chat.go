// Package handlers implements the HTTP endpoints of the Zubi server.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/zubi-app/zubi/pkg/chat"
	"github.com/zubi-app/zubi/pkg/server/chatloop"
	"github.com/zubi-app/zubi/pkg/server/config"
	"github.com/zubi-app/zubi/pkg/server/metrics"
	"github.com/zubi-app/zubi/pkg/server/mw"
	"github.com/zubi-app/zubi/pkg/server/sse"
)

// Runner resolves one chat request into an event sequence.
type Runner interface {
	Run(ctx context.Context, history []chat.Message, emit chatloop.EmitFunc) error
}

// ChatHandler serves POST /api/chat as a server-sent event stream.
type ChatHandler struct {
	Config  config.Config
	Runner  Runner
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// chatRequestBody distinguishes a missing messages field from an empty one:
// an empty history is the greeting request and is valid.
type chatRequestBody struct {
	Messages *[]chat.Message `json:"messages"`
}

func (h ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	reqID, _ := mw.RequestIDFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.reject(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req chatRequestBody
	if err := json.Unmarshal(body, &req); err != nil || req.Messages == nil {
		h.reject(w, http.StatusBadRequest, "messages array is required")
		return
	}
	history := *req.Messages
	if len(history) > h.Config.MaxMessages {
		h.reject(w, http.StatusBadRequest, "too many messages")
		return
	}
	for _, m := range history {
		if m.Role != chat.RoleUser && m.Role != chat.RoleAssistant {
			h.reject(w, http.StatusBadRequest, "message role must be user or assistant")
			return
		}
	}

	// Configuration errors fail fast with a clear status, never a partial
	// stream.
	if h.Config.OpenAIAPIKey == "" {
		h.recordError("config")
		h.reject(w, http.StatusInternalServerError, "OpenAI API key not configured")
		return
	}

	writer, err := sse.New(w)
	if err != nil {
		h.reject(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	if h.Config.MaxStreamDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Config.MaxStreamDuration)
		defer cancel()
	}

	emit := func(ev chat.StreamEvent) error {
		if h.Metrics != nil {
			h.Metrics.RecordStreamEvent(ev.Type)
			if ev.Type == chat.EventTool {
				h.Metrics.RecordToolCall(ev.Action)
			}
		}
		return writer.Send(ev)
	}

	runErr := h.Runner.Run(ctx, history, emit)
	status := "ok"
	switch {
	case runErr == nil:
	case errors.Is(runErr, chatloop.ErrEmit):
		status = "client_gone"
	default:
		status = "upstream_error"
		h.recordError("upstream")
	}
	if runErr != nil && h.Logger != nil {
		h.Logger.Warn("chat stream ended with error",
			"request_id", reqID, "status", status, "error", runErr)
	}
	if h.Metrics != nil {
		h.Metrics.RecordRequest("/api/chat", status, time.Since(start))
	}
}

// errorResponse is the JSON envelope for pre-stream rejections.
type errorResponse struct {
	Error string `json:"error"`
}

func (h ChatHandler) reject(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

func (h ChatHandler) recordError(kind string) {
	if h.Metrics != nil {
		h.Metrics.RecordError(kind)
	}
}
