package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

// ErrSuperseded reports that a newer utterance cancelled this one.
var ErrSuperseded = errors.New("utterance superseded")

// Announcer is notified when an utterance's audio is ready for playback.
type Announcer interface {
	AnnounceUtterance(id, url, text string)
}

// Synthesizer converts question text to spoken audio with the OpenAI speech
// API. The synthesized mp3 is written under dir and announced to the
// presentation layer for playback; the done callback fires when playback is
// reported finished, or after a timeout when no report arrives. At most one
// utterance is in flight: a new Speak cancels the previous one.
type Synthesizer struct {
	client       *openai.Client
	model        openai.SpeechModel
	voice        openai.SpeechVoice
	dir          string
	announcer    Announcer
	maxUtterance time.Duration

	synthesize func(ctx context.Context, text, path string) error

	mu      sync.Mutex
	pending *utterance
}

type utterance struct {
	id    string
	done  func(error)
	timer *time.Timer
	once  sync.Once
}

func (u *utterance) finish(err error) {
	u.once.Do(func() {
		if u.timer != nil {
			u.timer.Stop()
		}
		if u.done != nil {
			u.done(err)
		}
	})
}

func NewSynthesizer(apiKey, model, voice, dir string, announcer Announcer) *Synthesizer {
	if model == "" {
		model = string(openai.TTSModel1)
	}
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}
	if dir == "" {
		dir = filepath.Join("data", "voice")
	}

	s := &Synthesizer{
		client:       openai.NewClient(apiKey),
		model:        openai.SpeechModel(model),
		voice:        openai.SpeechVoice(voice),
		dir:          dir,
		announcer:    announcer,
		maxUtterance: 45 * time.Second,
	}
	s.synthesize = s.defaultSynthesize
	return s
}

// Speak synthesizes text and announces the resulting audio. done fires
// exactly once; a synthesis failure is reported through it so the caller can
// fail open.
func (s *Synthesizer) Speak(text string, done func(error)) {
	u := &utterance{id: uuid.NewString(), done: done}

	s.mu.Lock()
	previous := s.pending
	s.pending = u
	s.mu.Unlock()

	if previous != nil {
		previous.finish(ErrSuperseded)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		path := filepath.Join(s.dir, u.id+".mp3")
		if err := s.synthesize(ctx, text, path); err != nil {
			s.clear(u)
			u.finish(fmt.Errorf("synthesize speech: %w", err))
			return
		}

		s.mu.Lock()
		if s.pending != u {
			s.mu.Unlock()
			u.finish(ErrSuperseded)
			return
		}
		u.timer = time.AfterFunc(s.maxUtterance, func() {
			s.clear(u)
			u.finish(nil)
		})
		s.mu.Unlock()

		if s.announcer != nil {
			s.announcer.AnnounceUtterance(u.id, "/api/voice/"+u.id+".mp3", text)
		}
	}()
}

// PlaybackEnded reports that the browser finished playing an utterance.
func (s *Synthesizer) PlaybackEnded(id string) {
	s.mu.Lock()
	u := s.pending
	if u == nil || u.id != id {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	s.mu.Unlock()

	u.finish(nil)
}

// AudioDir returns the directory holding synthesized utterances.
func (s *Synthesizer) AudioDir() string {
	return s.dir
}

func (s *Synthesizer) clear(u *utterance) {
	s.mu.Lock()
	if s.pending == u {
		s.pending = nil
	}
	s.mu.Unlock()
}

func (s *Synthesizer) defaultSynthesize(ctx context.Context, text, path string) error {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return fmt.Errorf("create speech: %w", err)
	}
	defer func() { _ = resp.Close() }()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create voice directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open voice file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(f, resp); err != nil {
		return fmt.Errorf("write voice file: %w", err)
	}
	return nil
}
