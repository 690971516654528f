// Command zubi-chat is a terminal voice client: it captures the child's
// speech, streams turns through a Zubi server, plays the replies, and
// renders UI effects as console banners. Without a microphone or Cartesia
// key it falls back to typed input.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zubi-app/zubi/pkg/chat"
	"github.com/zubi-app/zubi/pkg/effects"
	"github.com/zubi-app/zubi/pkg/speech"
	"github.com/zubi-app/zubi/pkg/speech/stt"
	"github.com/zubi-app/zubi/pkg/speech/tts"
	"github.com/zubi-app/zubi/pkg/turn"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "zubi-chat: load .env: %v\n", err)
		return 1
	}

	serverURL := flag.String("server", "http://localhost:4000", "Zubi server base URL")
	duration := flag.Duration("duration", defaultSessionDuration(), "session length")
	voice := flag.String("voice", "", "Cartesia voice ID (empty for default)")
	speed := flag.Float64("speed", 0, "speech speed multiplier, 0.6-1.5 (0 uses the service default)")
	volume := flag.Float64("volume", 0, "speech volume multiplier, 0.5-2.0 (0 uses the service default)")
	textOnly := flag.Bool("text", false, "force typed input instead of voice")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	cartesiaKey := os.Getenv("CARTESIA_API_KEY")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := chat.NewClient(*serverURL)
	if err := client.Health(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "zubi-chat: server %s not reachable: %v\n", *serverURL, err)
		return 1
	}

	var (
		recognizer speech.Recognizer = noopRecognizer{}
		synth      speech.Synthesizer
	)
	voiceMode := !*textOnly && cartesiaKey != ""
	if voiceMode {
		audio, err := initAudio()
		if err != nil {
			fmt.Fprintf(os.Stderr, "zubi-chat: %v; falling back to typed input\n", err)
			voiceMode = false
		} else {
			defer audio.Close()
			recognizer = stt.New(stt.Config{APIKey: cartesiaKey, SampleRate: micSampleRate}, audio.mic)
			synth = tts.New(tts.Config{
				APIKey:     cartesiaKey,
				Voice:      *voice,
				SampleRate: ttsSampleRate,
				Speed:      *speed,
				Volume:     *volume,
			}, audio.speaker)
		}
	}
	if synth == nil {
		if !voiceMode && cartesiaKey == "" && !*textOnly {
			fmt.Println("CARTESIA_API_KEY not set; typed input only.")
		}
		synth = consoleSynthesizer{}
	}

	disp := effects.New(effects.WithOnChange(func(e effects.Effect) {
		if e.Active {
			fmt.Printf("  ** %s **\n", e.Kind)
		}
	}))

	sessionEnded := make(chan struct{}, 1)
	hooks := turn.Hooks{
		OnState: func(s turn.State) {
			switch s {
			case turn.StateListening:
				fmt.Println("  (listening...)")
			case turn.StateProcessing:
				fmt.Println("  (thinking...)")
			case turn.StateEnded:
				select {
				case sessionEnded <- struct{}{}:
				default:
				}
			}
		},
		OnMessage: func(msg chat.Message) {
			who := "Zubi"
			if msg.Role == chat.RoleUser {
				who = "You"
			}
			fmt.Printf("%s: %s\n", who, msg.Content)
		},
	}

	machine := turn.New(serverStreamer{client: client}, recognizer, synth, disp,
		turn.Config{SessionDuration: *duration}, hooks, logger)

	fmt.Printf("Starting a %s chat with Zubi. Type a line to talk", *duration)
	if voiceMode {
		fmt.Print(", or just speak")
	}
	fmt.Println(". Ctrl-C quits.")
	machine.Start(ctx)
	defer machine.Stop()

	// Typed input works in both modes; after the session ends an empty line
	// starts a fresh one.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if machine.State() == turn.StateEnded {
				fmt.Println("Starting over!")
				machine.Start(ctx)
				continue
			}
			if line != "" {
				machine.SubmitText(line)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nBye!")
			return 0
		case <-sessionEnded:
			fmt.Println("Time's up! Press Enter to chat again, or Ctrl-C to quit.")
		}
	}
}

// defaultSessionDuration honours the same deployment variable the server
// reads, so client and server agree on the session length.
func defaultSessionDuration() time.Duration {
	if v := os.Getenv("ZUBI_SESSION_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		// Bare integers are seconds, matching the server's config parsing.
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return turn.DefaultSessionDuration
}

// serverStreamer adapts the chat client to the machine's Streamer interface.
type serverStreamer struct {
	client *chat.Client
}

func (s serverStreamer) Stream(ctx context.Context, history []chat.Message) (turn.EventStream, error) {
	es, err := s.client.Stream(ctx, history)
	if err != nil {
		return nil, err
	}
	return es, nil
}

// noopRecognizer stands in when no microphone is available; turns arrive
// through SubmitText instead.
type noopRecognizer struct{}

func (noopRecognizer) Start(context.Context) error   { return nil }
func (noopRecognizer) Updates() <-chan speech.Update { return nil }
func (noopRecognizer) Listening() bool               { return false }
func (noopRecognizer) Reset()                        {}
func (noopRecognizer) Stop()                         {}

// consoleSynthesizer "plays" replies by pausing briefly, so the turn cycle
// still passes through the speaking state in text mode.
type consoleSynthesizer struct{}

func (consoleSynthesizer) Speak(ctx context.Context, text string, cb speech.Callbacks) {
	go func() {
		if cb.OnStart != nil {
			cb.OnStart()
		}
		select {
		case <-ctx.Done():
		case <-time.After(300 * time.Millisecond):
		}
		if cb.OnEnd != nil {
			cb.OnEnd()
		}
	}()
}

func (consoleSynthesizer) Stop() {}
