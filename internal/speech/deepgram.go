package speech

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/avelis/prepvox/internal/interview"
)

// RecognizerConfig holds the Deepgram live-transcription settings for
// candidate answers.
type RecognizerConfig struct {
	APIKey         string
	Model          string
	Language       string
	SampleRate     int
	Channels       int
	Encoding       string
	SilenceTimeout time.Duration
}

func (c RecognizerConfig) withDefaults() RecognizerConfig {
	if c.Model == "" {
		c.Model = "nova-2"
	}
	if c.Language == "" {
		c.Language = "en-US"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.Encoding == "" {
		c.Encoding = "linear16"
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = 15 * time.Second
	}
	return c
}

type liveConn interface {
	io.Writer
	Stop()
}

// Recognizer streams candidate audio to Deepgram and relays transcription
// events to the session controller. One attempt is active at a time; audio
// chunks uploaded by the browser are fed in through Write.
type Recognizer struct {
	cfg RecognizerConfig

	mu      sync.Mutex
	current *attempt
}

func NewRecognizer(cfg RecognizerConfig) *Recognizer {
	return &Recognizer{cfg: cfg.withDefaults()}
}

// Start opens a live transcription stream delivering events to l. Any
// previous attempt is stopped first.
func (r *Recognizer) Start(l interview.Listener) error {
	r.Stop()

	a := &attempt{listener: l}
	a.watchdog = NewWatchdog(r.cfg.SilenceTimeout, func() {
		a.finishFailed(interview.KindNoSpeech, nil)
		a.stopConn()
	})

	conn, err := r.dial(a)
	if err != nil {
		return &interview.SpeechInputError{Kind: interview.KindNetwork, Err: err}
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	r.mu.Lock()
	r.current = a
	r.mu.Unlock()

	a.watchdog.Arm()
	return nil
}

// Stop ends the active attempt. The listener receives Ended exactly once,
// carrying whatever transcript was accumulated.
func (r *Recognizer) Stop() {
	r.mu.Lock()
	a := r.current
	r.current = nil
	r.mu.Unlock()

	if a == nil {
		return
	}
	a.stopConn()
	a.finishEnded()
}

// Write forwards an audio chunk to the active stream. Chunks arriving
// between attempts are discarded.
func (r *Recognizer) Write(p []byte) (int, error) {
	r.mu.Lock()
	a := r.current
	r.mu.Unlock()

	if a == nil {
		return len(p), nil
	}

	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return len(p), nil
	}
	return conn.Write(p)
}

func (r *Recognizer) dial(a *attempt) (liveConn, error) {
	cOptions := &interfaces.ClientOptions{
		APIKey:          r.cfg.APIKey,
		EnableKeepAlive: true,
	}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          r.cfg.Model,
		Language:       r.cfg.Language,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		Encoding:       r.cfg.Encoding,
		SampleRate:     r.cfg.SampleRate,
		Channels:       r.cfg.Channels,
	}

	dgClient, err := client.NewWSUsingCallback(context.Background(), r.cfg.APIKey, cOptions, tOptions, transcriptCallback{attempt: a})
	if err != nil {
		return nil, fmt.Errorf("create deepgram client: %w", err)
	}
	if ok := dgClient.Connect(); !ok {
		return nil, fmt.Errorf("deepgram connect failed")
	}
	return dgClient, nil
}

// attempt is one listening window. finished flips once and suppresses any
// event that arrives after Ended or Failed has been delivered.
type attempt struct {
	listener interview.Listener
	watchdog *Watchdog
	finished atomic.Bool

	mu   sync.Mutex
	conn liveConn
}

func (a *attempt) stopConn() {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	if conn != nil {
		conn.Stop()
	}
}

func (a *attempt) finishEnded() {
	if a.finished.Swap(true) {
		return
	}
	a.watchdog.Stop()
	a.listener.Ended()
}

func (a *attempt) finishFailed(kind interview.ErrorKind, err error) {
	if a.finished.Swap(true) {
		return
	}
	a.watchdog.Stop()
	a.listener.Failed(kind, err)
}

// transcriptCallback adapts Deepgram's websocket callbacks onto the attempt.
type transcriptCallback struct {
	attempt *attempt
}

func (c transcriptCallback) Message(mr *api.MessageResponse) error {
	if c.attempt.finished.Load() {
		return nil
	}
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}

	transcript := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	if transcript == "" {
		return nil
	}

	c.attempt.watchdog.Activity()

	if mr.IsFinal {
		c.attempt.listener.Final(transcript)
	} else {
		c.attempt.listener.Interim(transcript)
	}
	return nil
}

func (c transcriptCallback) Open(*api.OpenResponse) error {
	log.Println("connected to deepgram")
	return nil
}

func (c transcriptCallback) Metadata(*api.MetadataResponse) error { return nil }

func (c transcriptCallback) SpeechStarted(*api.SpeechStartedResponse) error {
	c.attempt.watchdog.Activity()
	return nil
}

func (c transcriptCallback) UtteranceEnd(*api.UtteranceEndResponse) error { return nil }

func (c transcriptCallback) Close(*api.CloseResponse) error {
	c.attempt.finishEnded()
	return nil
}

func (c transcriptCallback) Error(er *api.ErrorResponse) error {
	kind := mapErrorKind(er.ErrCode, er.Description)
	c.attempt.finishFailed(kind, fmt.Errorf("deepgram error %s: %s", er.ErrCode, er.Description))
	return nil
}

func (c transcriptCallback) UnhandledEvent([]byte) error { return nil }

// mapErrorKind folds Deepgram error codes onto the controller's error
// taxonomy. Unknown codes degrade to "other", which still offers the typed
// fallback path.
func mapErrorKind(code, description string) interview.ErrorKind {
	s := strings.ToLower(code + " " + description)
	switch {
	case strings.Contains(s, "auth") || strings.Contains(s, "401") || strings.Contains(s, "403") || strings.Contains(s, "permission"):
		return interview.KindPermissionDenied
	case strings.Contains(s, "net") || strings.Contains(s, "timeout") || strings.Contains(s, "connection") || strings.Contains(s, "unreachable"):
		return interview.KindNetwork
	case strings.Contains(s, "abort") || strings.Contains(s, "cancel"):
		return interview.KindAborted
	default:
		return interview.KindOther
	}
}
