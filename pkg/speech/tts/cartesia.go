// Package tts speaks assistant replies through Cartesia's synthesis API.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/zubi-app/zubi/pkg/speech"
)

const (
	baseURL         = "https://api.cartesia.ai"
	cartesiaVersion = "2025-04-16"

	defaultModel      = "sonic-3"
	defaultVoiceID    = "a0e99841-438c-4a64-b679-ae501e7d6091"
	defaultSampleRate = 24000
)

// Player renders raw little-endian 16-bit PCM and blocks until the clip has
// finished or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, pcm []byte) error
}

// Config holds Cartesia TTS settings. Zero values fall back to defaults.
// BaseURL overrides the Cartesia endpoint, mainly for tests.
type Config struct {
	APIKey     string
	Model      string
	Voice      string
	Language   string
	SampleRate int
	BaseURL    string

	// Delivery tuning, passed through as generation config. Zero means the
	// service default. Speed 0.6-1.5, Volume 0.5-2.0.
	Speed  float64
	Volume float64

	HTTPClient *http.Client
}

// Synthesizer implements speech.Synthesizer over Cartesia's /tts/bytes
// endpoint: one HTTP round trip per utterance, then playback on the
// injected Player.
type Synthesizer struct {
	cfg    Config
	player Player

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New returns a Synthesizer playing through player.
func New(cfg Config, player Player) *Synthesizer {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultVoiceID
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Synthesizer{cfg: cfg, player: player}
}

// Speak synthesizes text and plays it. A new call pre-empts any clip still
// playing. Exactly one of cb.OnEnd or cb.OnError fires.
func (s *Synthesizer) Speak(ctx context.Context, text string, cb speech.Callbacks) {
	s.Stop()

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer cancel()

		if cb.OnStart != nil {
			cb.OnStart()
		}

		pcm, err := s.synthesize(ctx, text)
		if err == nil && len(pcm) > 0 {
			err = s.player.Play(ctx, pcm)
		}

		switch {
		case err == nil || ctx.Err() != nil:
			// A cancelled clip still counts as finished for turn-taking.
			if cb.OnEnd != nil {
				cb.OnEnd()
			}
		default:
			if cb.OnError != nil {
				cb.OnError(err)
			}
		}
	}()
}

// Stop cancels the in-flight utterance, if any.
func (s *Synthesizer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Synthesizer) synthesize(ctx context.Context, text string) ([]byte, error) {
	reqBody := ttsRequest{
		ModelID:    s.cfg.Model,
		Transcript: text,
		Voice:      voiceSpec{Mode: "id", ID: s.cfg.Voice},
		OutputFormat: outputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: s.cfg.SampleRate,
		},
	}
	if s.cfg.Speed != 0 || s.cfg.Volume != 0 {
		reqBody.GenerationConfig = &generationConfig{
			Speed:  s.cfg.Speed,
			Volume: s.cfg.Volume,
		}
	}
	if s.cfg.Language != "" {
		reqBody.Language = &s.cfg.Language
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cartesia request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cartesia error %d: %s", resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return audio, nil
}

type ttsRequest struct {
	ModelID          string            `json:"model_id"`
	Transcript       string            `json:"transcript"`
	Voice            voiceSpec         `json:"voice"`
	OutputFormat     outputFormat      `json:"output_format"`
	Language         *string           `json:"language,omitempty"`
	GenerationConfig *generationConfig `json:"generation_config,omitempty"`
}

type generationConfig struct {
	Speed  float64 `json:"speed,omitempty"`
	Volume float64 `json:"volume,omitempty"`
}

type voiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}
