package interview

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avelis/prepvox/internal/question"
)

const (
	confirmationLine = "Thank you. I've recorded your answer."
	closingLine      = "Interview completed. Great job!"
)

// Controller owns the single active interview session and drives the
// question -> answer -> advance cycle across the speech and media adapters.
// All adapter events are tagged with the session generation and question
// index that produced them; events for a superseded generation or a question
// no longer current are discarded.
type Controller struct {
	speaker    Speaker
	recognizer Recognizer
	media      MediaCapture
	events     EventBroadcaster
	rng        *rand.Rand
	now        func() time.Time

	mu sync.Mutex
	s  *sessionState
}

func NewController(speaker Speaker, recognizer Recognizer, media MediaCapture, events EventBroadcaster, rng *rand.Rand) *Controller {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(time.Now().Unix())))
	}
	return &Controller{
		speaker:    speaker,
		recognizer: recognizer,
		media:      media,
		events:     events,
		rng:        rng,
		now:        time.Now,
	}
}

// StartSession begins a new interview for company from its question pool.
// Any in-progress session is fully released first. Fails with
// ErrInsufficientQuestions when fewer than QuestionsPerSession questions are
// available and with ErrMediaUnavailable when capture cannot be acquired;
// neither failure leaves a session behind.
func (c *Controller) StartSession(company string, pool []question.Question) (Session, error) {
	c.releaseCurrent()

	eligible := make([]question.Question, 0, len(pool))
	for _, q := range pool {
		if q.Company == company {
			eligible = append(eligible, q)
		}
	}

	if len(eligible) < QuestionsPerSession {
		return Session{}, fmt.Errorf("company %q has %d questions: %w", company, len(eligible), ErrInsufficientQuestions)
	}

	if c.media == nil {
		return Session{}, ErrMediaUnavailable
	}

	handle, err := c.media.Acquire()
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	if err := c.media.StartRecording(handle); err != nil {
		c.media.Release(handle)
		return Session{}, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}

	selected := SampleQuestions(eligible, QuestionsPerSession, c.rng)

	state := &sessionState{
		generation: uuid.NewString(),
		company:    company,
		questions:  selected,
		answers:    make([]Answer, 0, QuestionsPerSession),
		phase:      PhaseSpeaking,
		handle:     handle,
	}

	c.mu.Lock()
	c.s = state
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.broadcastSessionStarted(company, len(selected))
	c.presentCurrent(state.generation)

	return snap, nil
}

// PresentCurrentQuestion re-speaks the current question. Valid while a
// question is awaiting its answer; repeating resets the two-phase cycle so
// capture is disabled until speech output finishes again.
func (c *Controller) PresentCurrentQuestion() error {
	c.mu.Lock()
	if c.s == nil || (c.s.phase != PhaseSpeaking && c.s.phase != PhaseListening) {
		c.mu.Unlock()
		return ErrInvalidState
	}
	gen := c.s.generation
	wasListening := c.s.listening
	c.s.listening = false
	c.mu.Unlock()

	if wasListening && c.recognizer != nil {
		c.recognizer.Stop()
	}

	c.presentCurrent(gen)
	return nil
}

func (c *Controller) presentCurrent(gen string) {
	c.mu.Lock()
	if c.s == nil || c.s.generation != gen {
		c.mu.Unlock()
		return
	}
	c.s.phase = PhaseSpeaking
	c.s.fallbackOpen = false
	c.s.voiceDisabled = false
	idx := c.s.index
	total := len(c.s.questions)
	text := c.s.questions[idx].Text
	c.mu.Unlock()

	c.broadcastQuestionSpeaking(idx, total, text)

	utterance := fmt.Sprintf("Question %d. %s", idx+1, text)
	c.speak(utterance, func(err error) {
		c.speechDone(gen, idx, err)
	})
}

// speechDone unblocks answer capture once the question utterance finishes.
// Output errors fail open: the question stays visible as text and capture is
// enabled anyway.
func (c *Controller) speechDone(gen string, idx int, err error) {
	c.mu.Lock()
	if c.s == nil || c.s.generation != gen || c.s.index != idx || c.s.phase != PhaseSpeaking {
		c.mu.Unlock()
		return
	}
	c.s.phase = PhaseListening
	c.mu.Unlock()

	if err != nil {
		c.broadcastStatus("Could not speak the question, but you can read it above.")
	}
	c.broadcastListeningEnabled(idx)
}

// StartListening begins a voice capture attempt for the current question.
func (c *Controller) StartListening() error {
	c.mu.Lock()
	if c.s == nil || c.s.phase != PhaseListening || c.s.voiceDisabled {
		c.mu.Unlock()
		return ErrInvalidState
	}
	if c.s.listening {
		c.mu.Unlock()
		return nil
	}
	if c.recognizer == nil {
		c.mu.Unlock()
		return &SpeechInputError{Kind: KindOther, Err: fmt.Errorf("speech recognition not configured")}
	}
	c.s.listening = true
	relay := &recognitionRelay{c: c, generation: c.s.generation, index: c.s.index}
	c.mu.Unlock()

	if err := c.recognizer.Start(relay); err != nil {
		c.mu.Lock()
		if c.s != nil && c.s.generation == relay.generation {
			c.s.listening = false
		}
		c.mu.Unlock()

		var sie *SpeechInputError
		if errors.As(err, &sie) {
			return err
		}
		return &SpeechInputError{Kind: KindOther, Err: err}
	}
	return nil
}

// StopListening ends the current voice capture attempt. Any final transcript
// captured so far is delivered through the recognizer's Ended event.
func (c *Controller) StopListening() {
	c.mu.Lock()
	active := c.s != nil && c.s.listening
	c.mu.Unlock()

	if active && c.recognizer != nil {
		c.recognizer.Stop()
	}
}

// SubmitAnswer records typed text as the answer for the current question.
// Valid only while capture is enabled; otherwise ErrInvalidState.
func (c *Controller) SubmitAnswer(text string) error {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if c.s == nil || c.s.phase != PhaseListening {
		c.mu.Unlock()
		return ErrInvalidState
	}
	if text == "" {
		c.mu.Unlock()
		return ErrEmptyAnswer
	}
	wasListening := c.s.listening
	c.s.listening = false
	answer := c.recordAnswerLocked(text)
	c.mu.Unlock()

	// A voice attempt still running lost the race; its late events are
	// discarded by the phase guard.
	if wasListening && c.recognizer != nil {
		c.recognizer.Stop()
	}

	c.afterAnswer(answer)
	return nil
}

// Advance moves to the next question, or completes the session after the
// last one. Valid only after an answer has been recorded.
func (c *Controller) Advance() error {
	c.mu.Lock()
	if c.s == nil || c.s.phase != PhaseAdvancing {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.s.index++
	gen := c.s.generation
	if c.s.index < len(c.s.questions) {
		c.mu.Unlock()
		c.presentCurrent(gen)
		return nil
	}

	result := c.completeLocked()
	c.mu.Unlock()

	c.afterComplete(result)
	return nil
}

// FinishEarly completes the session with the answers accumulated so far.
// Fails with ErrNoAnswersRecorded when nothing has been captured yet.
func (c *Controller) FinishEarly() error {
	c.mu.Lock()
	if c.s == nil || c.s.phase == PhaseCompleted {
		c.mu.Unlock()
		return ErrInvalidState
	}
	if len(c.s.answers) == 0 {
		c.mu.Unlock()
		return ErrNoAnswersRecorded
	}
	wasListening := c.s.listening
	c.s.listening = false
	result := c.completeLocked()
	c.mu.Unlock()

	if wasListening && c.recognizer != nil {
		c.recognizer.Stop()
	}

	c.afterComplete(result)
	return nil
}

// Finalize stops media capture and returns the session result. Only valid
// once the session is completed. Idempotent: a second call returns the same
// result without touching the already-stopped capture.
func (c *Controller) Finalize() (SessionResult, error) {
	c.mu.Lock()
	if c.s == nil || c.s.phase != PhaseCompleted {
		c.mu.Unlock()
		return SessionResult{}, ErrInvalidState
	}
	if c.s.finalized {
		result := c.s.result
		c.mu.Unlock()
		return result, nil
	}
	c.s.finalized = true
	handle := c.s.handle
	result := c.s.result
	c.mu.Unlock()

	path, err := c.media.StopRecording()
	c.media.Release(handle)
	if err != nil {
		c.broadcastStatus("Video recording could not be saved.")
	}

	c.mu.Lock()
	if c.s != nil {
		c.s.recordingPath = path
	}
	c.mu.Unlock()

	return result, nil
}

// RecordingPath returns the stored recording for the finalized session, or
// empty when no recording is available.
func (c *Controller) RecordingPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s == nil {
		return ""
	}
	return c.s.recordingPath
}

// RespondFallback answers a degrade-to-text offer. Accepting disables voice
// capture for the current question so the next typed submission is the
// answer; declining keeps the controller listening for a retry.
func (c *Controller) RespondFallback(accept bool) error {
	c.mu.Lock()
	if c.s == nil || c.s.phase != PhaseListening || !c.s.fallbackOpen {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.s.fallbackOpen = false
	if accept {
		c.s.voiceDisabled = true
	}
	c.mu.Unlock()

	if accept {
		c.broadcastStatus("Type your answer below.")
	} else {
		c.broadcastStatus("Click the microphone to try again.")
	}
	return nil
}

// Snapshot returns a read-only view of the active session.
func (c *Controller) Snapshot() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s == nil {
		return Session{}, false
	}
	return c.snapshotLocked(), true
}

// Answers returns a copy of the answers recorded so far.
func (c *Controller) Answers() []Answer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s == nil {
		return nil
	}
	return append([]Answer(nil), c.s.answers...)
}

func (c *Controller) snapshotLocked() Session {
	texts := make([]string, len(c.s.questions))
	for i, q := range c.s.questions {
		texts[i] = q.Text
	}
	return Session{
		Generation: c.s.generation,
		Company:    c.s.company,
		Phase:      c.s.phase,
		Index:      c.s.index,
		Total:      len(c.s.questions),
		Questions:  texts,
		Answered:   len(c.s.answers),
	}
}

// recordAnswerLocked appends the answer for the current question and moves
// to the advancing phase. Caller holds the lock.
func (c *Controller) recordAnswerLocked(text string) Answer {
	answer := Answer{
		Question:  c.s.questions[c.s.index].Text,
		Answer:    text,
		Timestamp: c.now().UTC(),
	}
	c.s.answers = append(c.s.answers, answer)
	c.s.phase = PhaseAdvancing
	c.s.fallbackOpen = false
	return answer
}

// completeLocked transitions to the terminal phase and freezes the result.
// Caller holds the lock.
func (c *Controller) completeLocked() SessionResult {
	c.s.phase = PhaseCompleted
	c.s.completedAt = c.now().UTC()
	c.s.result = SessionResult{
		Company:           c.s.company,
		Date:              c.s.completedAt,
		TotalQuestions:    len(c.s.questions),
		AnsweredQuestions: len(c.s.answers),
		Responses:         append([]Answer(nil), c.s.answers...),
	}
	return c.s.result
}

func (c *Controller) afterAnswer(answer Answer) {
	c.mu.Lock()
	idx := 0
	if c.s != nil {
		idx = c.s.index
	}
	c.mu.Unlock()

	c.broadcastAnswerRecorded(idx, answer)
	c.speak(confirmationLine, nil)
}

func (c *Controller) afterComplete(result SessionResult) {
	c.broadcastSessionCompleted(result)
	c.speak(closingLine, nil)
}

// recognition event handlers, invoked by the per-attempt relay.

func (c *Controller) recognitionInterim(gen string, idx int, text string) {
	c.mu.Lock()
	stale := c.s == nil || c.s.generation != gen || c.s.index != idx || c.s.phase != PhaseListening
	c.mu.Unlock()
	if stale {
		return
	}
	c.broadcastInterimTranscript(idx, text)
}

func (c *Controller) recognitionEnded(gen string, idx int, transcript string) {
	transcript = strings.TrimSpace(transcript)

	c.mu.Lock()
	if c.s == nil || c.s.generation != gen || c.s.index != idx || c.s.phase != PhaseListening {
		c.mu.Unlock()
		return
	}
	c.s.listening = false
	if transcript == "" {
		c.mu.Unlock()
		return
	}
	answer := c.recordAnswerLocked(transcript)
	c.mu.Unlock()

	c.afterAnswer(answer)
}

func (c *Controller) recognitionFailed(gen string, idx int, kind ErrorKind, err error) {
	c.mu.Lock()
	if c.s == nil || c.s.generation != gen || c.s.index != idx || c.s.phase != PhaseListening {
		c.mu.Unlock()
		return
	}
	c.s.listening = false
	offerFallback := !kind.Recoverable()
	if offerFallback {
		c.s.fallbackOpen = true
	}
	c.mu.Unlock()

	switch kind {
	case KindNoSpeech:
		c.broadcastStatus("No speech detected. Please try again and speak clearly.")
	case KindAborted:
		c.broadcastStatus("Recognition stopped. Click the microphone to try again.")
	case KindNetwork:
		c.broadcastStatus("Network error during speech recognition.")
	case KindPermissionDenied:
		c.broadcastStatus("Microphone access denied.")
	default:
		if err != nil {
			c.broadcastStatus(fmt.Sprintf("Speech recognition error: %v", err))
		} else {
			c.broadcastStatus("Speech recognition error.")
		}
	}

	if offerFallback {
		c.broadcastFallbackOffered(idx, kind)
	}
}

// releaseCurrent abandons any in-progress session and releases its adapter
// handles so a new session never inherits them.
func (c *Controller) releaseCurrent() {
	c.mu.Lock()
	if c.s == nil {
		c.mu.Unlock()
		return
	}
	handle := c.s.handle
	wasListening := c.s.listening
	alreadyFinalized := c.s.finalized
	c.s = nil
	c.mu.Unlock()

	if wasListening && c.recognizer != nil {
		c.recognizer.Stop()
	}
	if !alreadyFinalized && c.media != nil {
		_, _ = c.media.StopRecording()
		c.media.Release(handle)
	}
}

func (c *Controller) speak(text string, done func(error)) {
	if c.speaker == nil {
		if done != nil {
			done(nil)
		}
		return
	}
	c.speaker.Speak(text, done)
}

// broadcast helpers tolerate a nil events sink.

func (c *Controller) broadcastSessionStarted(company string, total int) {
	if c.events != nil {
		c.events.BroadcastSessionStarted(company, total)
	}
}

func (c *Controller) broadcastQuestionSpeaking(index, total int, text string) {
	if c.events != nil {
		c.events.BroadcastQuestionSpeaking(index, total, text)
	}
}

func (c *Controller) broadcastListeningEnabled(index int) {
	if c.events != nil {
		c.events.BroadcastListeningEnabled(index)
	}
}

func (c *Controller) broadcastInterimTranscript(index int, text string) {
	if c.events != nil {
		c.events.BroadcastInterimTranscript(index, text)
	}
}

func (c *Controller) broadcastAnswerRecorded(index int, answer Answer) {
	if c.events != nil {
		c.events.BroadcastAnswerRecorded(index, answer)
	}
}

func (c *Controller) broadcastFallbackOffered(index int, kind ErrorKind) {
	if c.events != nil {
		c.events.BroadcastFallbackOffered(index, kind)
	}
}

func (c *Controller) broadcastSessionCompleted(result SessionResult) {
	if c.events != nil {
		c.events.BroadcastSessionCompleted(result)
	}
}

func (c *Controller) broadcastStatus(message string) {
	if c.events != nil {
		c.events.BroadcastStatus(message)
	}
}
