package openai

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Frame is one unit of incremental output from a streaming completion.
type Frame interface{ frame() }

// TextFrame carries a text content delta.
type TextFrame struct {
	Text string
}

// ToolCallFrame carries a partial tool-call delta. ID and Name may be empty
// on continuation frames; Arguments is a fragment that must be concatenated
// with earlier fragments for the same Index, never overwritten.
type ToolCallFrame struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

func (TextFrame) frame()     {}
func (ToolCallFrame) frame() {}

// chatChunk is the OpenAI streaming chunk format.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content   string          `json:"content,omitempty"`
			ToolCalls []toolCallDelta `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

// EventStream iterates over the frames of one streaming completion.
type EventStream interface {
	// Next returns the next frame, or io.EOF when the stream is complete.
	Next() (Frame, error)
	Close() error
}

// eventStream implements EventStream over an SSE response body.
type eventStream struct {
	reader   *bufio.Reader
	closer   io.Closer
	pending  []Frame
	finished bool
}

func newEventStream(body io.ReadCloser) *eventStream {
	return &eventStream{reader: bufio.NewReader(body), closer: body}
}

// Next returns the next frame, or io.EOF when the stream is complete.
// Unparseable chunks are skipped.
func (s *eventStream) Next() (Frame, error) {
	if len(s.pending) > 0 {
		f := s.pending[0]
		s.pending = s.pending[1:]
		return f, nil
	}
	if s.finished {
		return nil, io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.finished = true
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			s.finished = true
			return nil, io.EOF
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		var frames []Frame
		if choice.Delta.Content != "" {
			frames = append(frames, TextFrame{Text: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			frames = append(frames, ToolCallFrame{
				Index:     tc.Index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		if len(frames) == 0 {
			continue
		}
		s.pending = frames[1:]
		return frames[0], nil
	}
}

// Close releases resources associated with the stream.
func (s *eventStream) Close() error {
	return s.closer.Close()
}
