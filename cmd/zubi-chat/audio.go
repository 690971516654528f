package main

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"
)

const (
	micSampleRate = 16000
	ttsSampleRate = 24000
	audioChannels = 1
)

// audioIO bundles the microphone capture and speaker playback devices.
type audioIO struct {
	malgoCtx *malgo.AllocatedContext
	mic      *micReader
	speaker  *speaker
}

// initAudio sets up the microphone and speaker. An error here means the
// client should fall back to text-only mode.
func initAudio() (*audioIO, error) {
	malgoConfig := malgo.ContextConfig{}
	malgoConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	malgoCtx, err := malgo.InitContext(nil, malgoConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	mic, err := newMicReader(malgoCtx.Context, micSampleRate, audioChannels)
	if err != nil {
		_ = malgoCtx.Uninit()
		return nil, fmt.Errorf("init microphone: %w", err)
	}

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   ttsSampleRate,
		ChannelCount: audioChannels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   4800, // ~100ms at 24kHz mono s16le
	})
	if err != nil {
		mic.Close()
		_ = malgoCtx.Uninit()
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready

	return &audioIO{
		malgoCtx: malgoCtx,
		mic:      mic,
		speaker:  &speaker{otoCtx: otoCtx},
	}, nil
}

func (a *audioIO) Close() {
	a.mic.Close()
	_ = a.malgoCtx.Uninit()
}

// micReader captures PCM s16le from the default microphone and exposes it
// as an io.Reader for the recognizer.
type micReader struct {
	device *malgo.Device
	buf    []byte
	mu     sync.Mutex
	cond   *sync.Cond
	closed bool
}

func newMicReader(ctx malgo.Context, sampleRate, channels int) (*micReader, error) {
	m := &micReader{
		buf: make([]byte, 0, sampleRate*2),
	}
	m.cond = sync.NewCond(&m.mu)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			m.mu.Lock()
			m.buf = append(m.buf, pInputSamples...)
			m.mu.Unlock()
			m.cond.Signal()
		},
	}

	device, err := malgo.InitDevice(ctx, deviceConfig, callbacks)
	if err != nil {
		return nil, err
	}
	m.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, err
	}
	return m, nil
}

func (m *micReader) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.buf) == 0 && !m.closed {
		m.cond.Wait()
	}
	if m.closed && len(m.buf) == 0 {
		return 0, fmt.Errorf("microphone closed")
	}

	n := copy(p, m.buf)
	m.buf = m.buf[n:]
	return n, nil
}

func (m *micReader) Close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()

	if m.device != nil {
		_ = m.device.Stop()
		m.device.Uninit()
	}
}

// speaker plays one PCM clip at a time, blocking until the clip drains or
// the context is cancelled. It implements tts.Player.
type speaker struct {
	otoCtx *oto.Context
}

func (s *speaker) Play(ctx context.Context, pcm []byte) error {
	player := s.otoCtx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
