// Package chatloop implements the conversation stream orchestrator: one chat
// request is resolved as a two-phase exchange with the upstream model. The
// first streaming pass forwards text deltas as they arrive and reassembles
// tool-call fragments; if any tool fired, the resolved tool events are
// emitted and a second streaming pass lets the model narrate the result.
// Every run terminates with exactly one done or error event.
package chatloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zubi-app/zubi/pkg/chat"
	"github.com/zubi-app/zubi/pkg/upstream/openai"
)

// Provider is the upstream model dependency.
type Provider interface {
	StreamChat(ctx context.Context, req *openai.ChatRequest) (openai.EventStream, error)
}

// EmitFunc delivers one wire event to the client. An error from emit aborts
// the run (the client is gone).
type EmitFunc func(chat.StreamEvent) error

// Controller runs the two-phase exchange. It holds no cross-request state;
// one value can serve concurrent requests.
type Controller struct {
	Provider Provider
	Logger   *slog.Logger

	Temperature       float64
	MaxTokens         int
	FollowUpMaxTokens int

	// StreamIdleTimeout bounds the gap between upstream chunks. Zero
	// disables the watchdog.
	StreamIdleTimeout time.Duration
}

// ErrEmit wraps emit failures so callers can tell a dead client from an
// upstream failure.
var ErrEmit = errors.New("emit event")

// Run streams one conversation turn. Text deltas and tool events are emitted
// in upstream order, then a terminal done event. On failure an error event
// is emitted (best effort) and the error returned.
func (c *Controller) Run(ctx context.Context, history []chat.Message, emit EmitFunc) error {
	if c.Provider == nil {
		return errors.New("provider is required")
	}
	if emit == nil {
		return errors.New("emit function is required")
	}

	messages := make([]openai.ChatMessage, 0, len(history)+1)
	messages = append(messages, openai.Text("system", SystemPrompt))
	for _, m := range history {
		messages = append(messages, openai.Text(string(m.Role), m.Content))
	}

	err := c.run(ctx, messages, emit)
	if err != nil {
		if errors.Is(err, ErrEmit) {
			return err
		}
		if c.Logger != nil {
			c.Logger.Error("chat run failed", "error", err)
		}
		// Best effort: the connection may still be writable.
		_ = emit(chat.StreamEvent{Type: chat.EventError, Message: "Generation failed"})
		return err
	}
	return emit(chat.StreamEvent{Type: chat.EventDone})
}

func (c *Controller) run(ctx context.Context, messages []openai.ChatMessage, emit EmitFunc) error {
	// First pass: tools offered, text forwarded live, fragments accumulated.
	first := &openai.ChatRequest{
		Messages:    messages,
		Tools:       Tools(),
		ToolChoice:  "auto",
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	}
	acc := newStreamAccumulator()
	if err := c.streamPass(ctx, first, acc, emit); err != nil {
		return fmt.Errorf("first pass: %w", err)
	}

	calls := acc.Calls()
	if len(calls) == 0 {
		return nil
	}

	for _, call := range calls {
		action, payload := parseUIAction(call)
		ev := chat.StreamEvent{Type: chat.EventTool, Action: action, Payload: payload}
		if err := emit(ev); err != nil {
			return fmt.Errorf("%w: %v", ErrEmit, err)
		}
	}

	// Second pass: the model narrates the tool outcome. The client cannot
	// distinguish pre- and post-tool text; it is all one assistant turn.
	assistant := openai.ChatMessage{Role: "assistant", ToolCalls: calls}
	if text := acc.Text(); text != "" {
		assistant.Content = &text
	}
	followUp := append(append([]openai.ChatMessage{}, messages...), assistant)
	for _, call := range calls {
		followUp = append(followUp, openai.ChatMessage{
			Role:       "tool",
			ToolCallID: call.ID,
			Content:    ptr(ToolAcknowledgement),
		})
	}

	second := &openai.ChatRequest{
		Messages:    followUp,
		Temperature: c.Temperature,
		MaxTokens:   c.followUpMaxTokens(),
	}
	if err := c.streamPass(ctx, second, newStreamAccumulator(), emit); err != nil {
		return fmt.Errorf("follow-up pass: %w", err)
	}
	return nil
}

// streamPass drains one upstream stream, forwarding text deltas through emit
// and folding every frame into acc. An idle watchdog guards against a hung
// upstream connection.
func (c *Controller) streamPass(ctx context.Context, req *openai.ChatRequest, acc *streamAccumulator, emit EmitFunc) error {
	stream, err := c.Provider.StreamChat(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()

	type next struct {
		frame openai.Frame
		err   error
	}
	nextCh := make(chan next, 1)
	go func() {
		defer close(nextCh)
		for {
			frame, err := stream.Next()
			select {
			case nextCh <- next{frame: frame, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var idleC <-chan time.Time
	var idleTimer *time.Timer
	if c.StreamIdleTimeout > 0 {
		idleTimer = time.NewTimer(c.StreamIdleTimeout)
		defer idleTimer.Stop()
		idleC = idleTimer.C
	}
	resetIdle := func() {
		if idleTimer == nil {
			return
		}
		if !idleTimer.Stop() {
			select {
			case <-idleTimer.C:
			default:
			}
		}
		idleTimer.Reset(c.StreamIdleTimeout)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idleC:
			return errors.New("upstream stream idle timeout")
		case n, ok := <-nextCh:
			if !ok {
				return nil
			}
			if n.frame != nil {
				acc.apply(n.frame)
				if tf, isText := n.frame.(openai.TextFrame); isText {
					ev := chat.StreamEvent{Type: chat.EventText, Delta: tf.Text}
					if err := emit(ev); err != nil {
						return fmt.Errorf("%w: %v", ErrEmit, err)
					}
				}
			}
			if n.err != nil {
				if errors.Is(n.err, io.EOF) {
					return nil
				}
				return n.err
			}
			resetIdle()
		}
	}
}

func (c *Controller) followUpMaxTokens() int {
	if c.FollowUpMaxTokens > 0 {
		return c.FollowUpMaxTokens
	}
	return c.MaxTokens
}

func ptr(s string) *string { return &s }
