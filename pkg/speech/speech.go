// Package speech defines the speech I/O adapter: continuous listening that
// produces an incrementally-growing transcript, and utterance playback with
// start/end/error callbacks. Implementations live in the stt and tts
// subpackages; fakes stand in wherever audio hardware is unavailable.
package speech

import "context"

// Update carries the full transcript accumulated so far, not a delta. The
// transcript only grows until Reset.
type Update struct {
	Transcript string
}

// Recognizer is continuous speech-to-text.
type Recognizer interface {
	// Start begins capturing. It is an error to start twice without Stop.
	Start(ctx context.Context) error

	// Updates yields growing-transcript updates while listening.
	Updates() <-chan Update

	// Listening reports whether capture is active.
	Listening() bool

	// Reset clears the accumulated transcript.
	Reset()

	// Stop ends capture. Idempotent; safe when already stopped.
	Stop()
}

// Callbacks observe one utterance's playback. Any field may be nil.
type Callbacks struct {
	OnStart func()
	OnEnd   func()
	OnError func(error)
}

// Synthesizer is text-to-speech playback.
type Synthesizer interface {
	// Speak synthesizes and plays text asynchronously. Exactly one of OnEnd
	// or OnError fires when playback finishes or fails.
	Speak(ctx context.Context, text string, cb Callbacks)

	// Stop cancels any in-flight playback. Idempotent; safe when idle.
	Stop()
}
