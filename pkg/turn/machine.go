// Package turn owns the client-side conversation lifecycle: the turn-taking
// state machine that alternates between listening to the child and speaking
// the assistant's reply, plus the session countdown timer.
package turn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zubi-app/zubi/pkg/chat"
	"github.com/zubi-app/zubi/pkg/effects"
	"github.com/zubi-app/zubi/pkg/speech"
)

// State names one phase of the session.
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingGreeting State = "awaiting_greeting"
	StateListening        State = "listening"
	StateProcessing       State = "processing"
	StateSpeaking         State = "speaking"
	StateSessionEnding    State = "session_ending"
	StateEnded            State = "ended"
)

// Defaults for session behaviour. Debounce matches the endpointing window
// children need to finish a thought without being cut off.
const (
	DefaultDebounce        = 1200 * time.Millisecond
	DefaultSessionDuration = 60 * time.Second

	DefaultApology  = "Oops! I got a little mixed up. Can you say that again?"
	DefaultFarewell = "This was so much fun talking with you! You're an amazing friend! Bye bye!"
)

// EventStream yields chat events for one request until a terminal frame.
type EventStream interface {
	Next() (chat.StreamEvent, error)
	Close() error
}

// Streamer opens one streamed exchange against the conversation server.
type Streamer interface {
	Stream(ctx context.Context, history []chat.Message) (EventStream, error)
}

// Config tunes a Machine. Zero values fall back to defaults.
type Config struct {
	Debounce        time.Duration
	SessionDuration time.Duration
	Apology         string
	Farewell        string

	// TimerInterval overrides the timer tick, mainly for tests.
	TimerInterval time.Duration
}

// Hooks observe the machine for rendering. All fields may be nil. OnRemaining
// runs on the timer goroutine; the rest run on the machine's loop goroutine.
// None may block.
type Hooks struct {
	OnState         func(State)
	OnMessage       func(chat.Message)
	OnAssistantText func(cumulative string)
	OnRemaining     func(remaining time.Duration)
}

// Machine drives one voice session: greeting, listening with debounce
// endpointing, streamed processing, playback, and timed wrap-up. A single
// loop goroutine owns all session state; public methods only post to it.
type Machine struct {
	streamer   Streamer
	recognizer speech.Recognizer
	synth      speech.Synthesizer
	effects    *effects.Dispatcher
	logger     *slog.Logger
	cfg        Config
	hooks      Hooks

	// processing is the admission guard: set when a user turn is accepted,
	// cleared on the stream's terminal event. While set, new transcript
	// submissions are dropped rather than queued.
	processing atomic.Bool

	mu      sync.Mutex
	state   State
	history []chat.Message
	session *session
}

// command runs on the loop goroutine with the session's state.
type command func(ctx context.Context, ls *loopState)

type session struct {
	cancel    context.CancelFunc
	cmds      chan command
	done      chan struct{}
	startedAt time.Time

	// timer is published by the loop goroutine once built, under m.mu.
	timer *Timer
}

// Session is a point-in-time view of the running session's countdown.
type Session struct {
	StartedAt time.Time
	Duration  time.Duration
	Elapsed   time.Duration
	Done      bool
}

// New creates a Machine in the idle state.
func New(streamer Streamer, rec speech.Recognizer, synth speech.Synthesizer, disp *effects.Dispatcher, cfg Config, hooks Hooks, logger *slog.Logger) *Machine {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.SessionDuration <= 0 {
		cfg.SessionDuration = DefaultSessionDuration
	}
	if cfg.Apology == "" {
		cfg.Apology = DefaultApology
	}
	if cfg.Farewell == "" {
		cfg.Farewell = DefaultFarewell
	}
	if cfg.TimerInterval <= 0 {
		cfg.TimerInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		streamer:   streamer,
		recognizer: rec,
		synth:      synth,
		effects:    disp,
		logger:     logger,
		cfg:        cfg,
		hooks:      hooks,
		state:      StateIdle,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns a copy of the committed conversation so far.
func (m *Machine) History() []chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chat.Message, len(m.history))
	copy(out, m.history)
	return out
}

// Processing reports whether a user turn is in flight.
func (m *Machine) Processing() bool {
	return m.processing.Load()
}

// Session snapshots the countdown of the current session. The zero value is
// returned while no session is running.
func (m *Machine) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session
	if s == nil {
		return Session{}
	}
	out := Session{
		StartedAt: s.startedAt,
		Duration:  m.cfg.SessionDuration,
		Done:      m.state == StateSessionEnding || m.state == StateEnded,
	}
	if s.timer != nil {
		out.Elapsed = m.cfg.SessionDuration - s.timer.Remaining()
	}
	return out
}

// Start begins a new session: history is cleared, a greeting is requested
// from the server, and after the greeting plays the machine listens until
// the session timer expires. Starting over a live session restarts it.
func (m *Machine) Start(ctx context.Context) {
	m.Stop()

	ctx, cancel := context.WithCancel(ctx)
	s := &session{
		cancel:    cancel,
		cmds:      make(chan command, 8),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}

	m.mu.Lock()
	m.session = s
	m.history = nil
	m.state = StateIdle
	m.mu.Unlock()
	m.processing.Store(false)
	if m.effects != nil {
		m.effects.Reset()
	}

	go m.loop(ctx, s)
}

// Stop tears the current session down and returns the machine to idle.
// Idempotent; safe when no session is running.
func (m *Machine) Stop() {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.mu.Unlock()
	if s == nil {
		return
	}
	s.cancel()
	<-s.done
}

// SubmitText feeds a typed user turn, bypassing speech capture. It honours
// the same admission guard as voice input: dropped while a turn is in
// flight or the machine is not accepting input.
func (m *Machine) SubmitText(text string) {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return
	}
	cmd := command(func(ctx context.Context, ls *loopState) {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" || m.State() != StateListening {
			return
		}
		ls.transcript = ""
		if ls.debounce != nil {
			ls.debounce.Stop()
			ls.debounceC = nil
		}
		m.admitTurn(ctx, ls, trimmed)
	})
	select {
	case s.cmds <- cmd:
	case <-s.done:
	}
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	if m.hooks.OnState != nil {
		m.hooks.OnState(s)
	}
}

func (m *Machine) commit(msg chat.Message) {
	m.mu.Lock()
	m.history = append(m.history, msg)
	m.mu.Unlock()
	if m.hooks.OnMessage != nil {
		m.hooks.OnMessage(msg)
	}
}

// streamMsg is one fetch-goroutine report: a stream event, or a transport
// failure before any terminal frame arrived.
type streamMsg struct {
	ev  chat.StreamEvent
	err error
}

type playbackEnd struct {
	gen int
	err error
}

// loopState is the per-session mutable state owned by the loop goroutine.
type loopState struct {
	sessionDone bool
	transcript  string
	pending     strings.Builder
	playbackGen int

	// updates is the live capture channel; nil while not listening so the
	// select blocks instead of spinning on a closed channel.
	updates <-chan speech.Update

	debounce  *time.Timer
	debounceC <-chan time.Time

	stream  chan streamMsg
	played  chan playbackEnd
	expired chan struct{}

	timer *Timer
}

func (m *Machine) loop(ctx context.Context, s *session) {
	defer close(s.done)

	ls := &loopState{
		stream:  make(chan streamMsg, 16),
		played:  make(chan playbackEnd, 2),
		expired: make(chan struct{}, 1),
	}
	ls.timer = NewTimer(m.cfg.SessionDuration,
		func() {
			select {
			case ls.expired <- struct{}{}:
			default:
			}
		},
		WithTickInterval(m.cfg.TimerInterval),
		WithOnTick(func(remaining time.Duration) {
			if m.hooks.OnRemaining != nil {
				m.hooks.OnRemaining(remaining)
			}
		}),
	)
	m.mu.Lock()
	s.timer = ls.timer
	m.mu.Unlock()

	defer func() {
		ls.timer.Stop()
		if ls.debounce != nil {
			ls.debounce.Stop()
		}
		m.recognizer.Stop()
		m.synth.Stop()
	}()

	// Greeting turn: empty history asks the server to open the conversation.
	m.processing.Store(true)
	m.setState(StateAwaitingGreeting)
	go m.fetch(ctx, nil, ls.stream)

	for {
		select {
		case <-ctx.Done():
			m.setState(StateIdle)
			return

		case cmd := <-s.cmds:
			cmd(ctx, ls)

		case upd, ok := <-ls.updates:
			if !ok {
				ls.updates = nil
				continue
			}
			m.onTranscript(ls, upd.Transcript)

		case <-ls.debounceC:
			ls.debounceC = nil
			m.onDebounce(ctx, ls)

		case msg := <-ls.stream:
			m.onStream(ctx, ls, msg)

		case end := <-ls.played:
			if end.gen != ls.playbackGen {
				continue // stale clip pre-empted by Stop
			}
			if m.onPlaybackEnd(ctx, ls, end.err) {
				return
			}

		case <-ls.expired:
			m.onExpired(ctx, ls)
		}
	}
}

func (m *Machine) onTranscript(ls *loopState, transcript string) {
	if m.processing.Load() || m.State() != StateListening {
		return
	}
	if transcript == ls.transcript {
		return
	}
	ls.transcript = transcript

	// Rearm endpointing: the turn is taken only after the child has been
	// quiet for the full debounce window.
	if ls.debounce == nil {
		ls.debounce = time.NewTimer(m.cfg.Debounce)
	} else {
		ls.debounce.Stop()
		ls.debounce.Reset(m.cfg.Debounce)
	}
	ls.debounceC = ls.debounce.C
}

func (m *Machine) onDebounce(ctx context.Context, ls *loopState) {
	text := strings.TrimSpace(ls.transcript)
	ls.transcript = ""
	if text == "" {
		return
	}
	m.admitTurn(ctx, ls, text)
}

// admitTurn commits a user message and opens the streamed exchange. The
// guard is checked and set here; a losing caller's text is dropped.
func (m *Machine) admitTurn(ctx context.Context, ls *loopState, text string) {
	if !m.processing.CompareAndSwap(false, true) {
		return
	}
	m.recognizer.Stop()
	ls.updates = nil
	m.commit(chat.NewMessage(chat.RoleUser, text))
	ls.pending.Reset()
	m.setState(StateProcessing)
	go m.fetch(ctx, m.History(), ls.stream)
}

func (m *Machine) fetch(ctx context.Context, history []chat.Message, out chan<- streamMsg) {
	stream, err := m.streamer.Stream(ctx, history)
	if err != nil {
		select {
		case out <- streamMsg{err: err}:
		case <-ctx.Done():
		}
		return
	}
	defer stream.Close()

	for {
		ev, err := stream.Next()
		if err != nil {
			// The loop returns after the terminal frame, so any error here
			// means the stream died mid-turn. An early EOF counts too: the
			// turn must still complete.
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			select {
			case out <- streamMsg{err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- streamMsg{ev: ev}:
		case <-ctx.Done():
			return
		}
		if ev.Terminal() {
			return
		}
	}
}

func (m *Machine) onStream(ctx context.Context, ls *loopState, msg streamMsg) {
	if msg.err != nil {
		m.logger.Warn("chat stream failed", "error", msg.err)
		m.finishTurn(ctx, ls, m.cfg.Apology)
		return
	}

	ev := msg.ev
	switch ev.Type {
	case chat.EventText:
		// Deltas concatenate; the rendered bubble is always the full
		// cumulative text so far.
		ls.pending.WriteString(ev.Delta)
		if m.hooks.OnAssistantText != nil {
			m.hooks.OnAssistantText(ls.pending.String())
		}

	case chat.EventTool:
		if m.effects != nil {
			m.effects.Apply(effects.Kind(ev.Action), ev.Payload)
		}

	case chat.EventDone:
		m.finishTurn(ctx, ls, ls.pending.String())

	case chat.EventError:
		m.logger.Warn("chat turn errored", "message", ev.Message)
		m.finishTurn(ctx, ls, m.cfg.Apology)
	}
}

// finishTurn commits the assistant text, clears the guard, and moves to
// playback. Empty text still completes the turn so the machine never
// wedges in processing: a tool-only reply skips playback and goes straight
// back to listening.
func (m *Machine) finishTurn(ctx context.Context, ls *loopState, text string) {
	ls.pending.Reset()
	m.processing.Store(false)
	if ls.sessionDone {
		return
	}
	if text == "" {
		m.resumeListening(ctx, ls)
		return
	}
	m.commit(chat.NewMessage(chat.RoleAssistant, text))
	m.setState(StateSpeaking)
	m.speak(ctx, ls, text)
}

// speak starts playback tagged with a generation so completions of clips
// pre-empted by Stop are ignored.
func (m *Machine) speak(ctx context.Context, ls *loopState, text string) {
	ls.playbackGen++
	gen := ls.playbackGen
	m.synth.Speak(ctx, text, speech.Callbacks{
		OnEnd: func() {
			select {
			case ls.played <- playbackEnd{gen: gen}:
			default:
			}
		},
		OnError: func(err error) {
			select {
			case ls.played <- playbackEnd{gen: gen, err: err}:
			default:
			}
		},
	})
}

// onPlaybackEnd resumes listening after a spoken reply, or finalises the
// session after the farewell. Returns true when the loop should exit.
func (m *Machine) onPlaybackEnd(ctx context.Context, ls *loopState, err error) bool {
	if err != nil {
		m.logger.Warn("playback failed", "error", err)
	}

	if ls.sessionDone {
		m.setState(StateEnded)
		return true
	}

	m.resumeListening(ctx, ls)
	return false
}

func (m *Machine) resumeListening(ctx context.Context, ls *loopState) {
	ls.transcript = ""
	m.recognizer.Reset()
	if err := m.recognizer.Start(ctx); err != nil {
		m.logger.Error("speech capture failed", "error", err)
	}
	ls.updates = m.recognizer.Updates()
	m.setState(StateListening)
	ls.timer.Start()
}

// onExpired forces the wrap-up: capture and playback stop, the farewell is
// committed and spoken, and a local celebration effect fires without a
// network round trip.
func (m *Machine) onExpired(ctx context.Context, ls *loopState) {
	if ls.sessionDone {
		return
	}
	ls.sessionDone = true
	ls.transcript = ""
	if ls.debounce != nil {
		ls.debounce.Stop()
		ls.debounceC = nil
	}
	m.recognizer.Stop()
	ls.updates = nil
	m.synth.Stop()
	m.setState(StateSessionEnding)

	m.commit(chat.NewMessage(chat.RoleAssistant, m.cfg.Farewell))
	if m.effects != nil {
		m.effects.Apply(effects.KindConfetti, nil)
	}
	m.speak(ctx, ls, m.cfg.Farewell)
}
