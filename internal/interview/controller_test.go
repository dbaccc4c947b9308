package interview

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/avelis/prepvox/internal/question"
)

type speakerFake struct {
	mu         sync.Mutex
	utterances []string
	failWith   error
}

func (s *speakerFake) Speak(text string, done func(error)) {
	s.mu.Lock()
	s.utterances = append(s.utterances, text)
	err := s.failWith
	s.mu.Unlock()

	if done != nil {
		done(err)
	}
}

func (s *speakerFake) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.utterances...)
}

type recognizerFake struct {
	mu       sync.Mutex
	starts   int
	stops    int
	last     Listener
	startErr error
}

func (r *recognizerFake) Start(l Listener) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.starts++
	r.last = l
	return nil
}

func (r *recognizerFake) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
}

func (r *recognizerFake) listener() Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

type mediaFake struct {
	mu         sync.Mutex
	acquired   int
	released   int
	recordings int
	stops      int
	acquireErr error
	path       string
}

func (m *mediaFake) Acquire() (MediaHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return "", m.acquireErr
	}
	m.acquired++
	return MediaHandle(fmt.Sprintf("handle-%d", m.acquired)), nil
}

func (m *mediaFake) StartRecording(MediaHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordings++
	return nil
}

func (m *mediaFake) StopRecording() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return m.path, nil
}

func (m *mediaFake) Release(MediaHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
}

type hubFake struct {
	mu        sync.Mutex
	started   int
	speaking  []int
	listening []int
	interims  []string
	answers   []Answer
	fallbacks []ErrorKind
	completed []SessionResult
	statuses  []string
}

func (h *hubFake) BroadcastSessionStarted(string, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started++
}

func (h *hubFake) BroadcastQuestionSpeaking(index, _ int, _ string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.speaking = append(h.speaking, index)
}

func (h *hubFake) BroadcastListeningEnabled(index int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listening = append(h.listening, index)
}

func (h *hubFake) BroadcastInterimTranscript(_ int, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.interims = append(h.interims, text)
}

func (h *hubFake) BroadcastAnswerRecorded(_ int, answer Answer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.answers = append(h.answers, answer)
}

func (h *hubFake) BroadcastFallbackOffered(_ int, kind ErrorKind) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fallbacks = append(h.fallbacks, kind)
}

func (h *hubFake) BroadcastSessionCompleted(result SessionResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.completed = append(h.completed, result)
}

func (h *hubFake) BroadcastStatus(message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, message)
}

func makePool(company string, n int) []question.Question {
	pool := make([]question.Question, 0, n)
	for i := 0; i < n; i++ {
		pool = append(pool, question.Question{
			ID:        fmt.Sprintf("q-%d", i),
			Company:   company,
			Text:      fmt.Sprintf("Tell me about topic %d.", i),
			CreatedAt: time.Now().UTC(),
		})
	}
	return pool
}

type fixture struct {
	controller *Controller
	speaker    *speakerFake
	recognizer *recognizerFake
	media      *mediaFake
	hub        *hubFake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		speaker:    &speakerFake{},
		recognizer: &recognizerFake{},
		media:      &mediaFake{path: "data/media/rec.webm"},
		hub:        &hubFake{},
	}
	f.controller = NewController(f.speaker, f.recognizer, f.media, f.hub, nil)
	return f
}

func (f *fixture) startSession(t *testing.T, company string, poolSize int) Session {
	t.Helper()

	session, err := f.controller.StartSession(company, makePool(company, poolSize))
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	return session
}

func TestStartSessionInsufficientQuestions(t *testing.T) {
	f := newFixture(t)

	_, err := f.controller.StartSession("Acme", makePool("Acme", 4))
	if !errors.Is(err, ErrInsufficientQuestions) {
		t.Fatalf("expected ErrInsufficientQuestions, got %v", err)
	}
	if _, ok := f.controller.Snapshot(); ok {
		t.Fatal("expected no session after failed start")
	}
	if f.media.acquired != 0 {
		t.Fatalf("expected no media acquisition, got %d", f.media.acquired)
	}
}

func TestStartSessionIgnoresOtherCompanies(t *testing.T) {
	f := newFixture(t)

	pool := append(makePool("Acme", 4), makePool("Globex", 10)...)
	_, err := f.controller.StartSession("Acme", pool)
	if !errors.Is(err, ErrInsufficientQuestions) {
		t.Fatalf("expected ErrInsufficientQuestions, got %v", err)
	}
}

func TestStartSessionMediaUnavailable(t *testing.T) {
	f := newFixture(t)
	f.media.acquireErr = errors.New("camera denied")

	_, err := f.controller.StartSession("Acme", makePool("Acme", 7))
	if !errors.Is(err, ErrMediaUnavailable) {
		t.Fatalf("expected ErrMediaUnavailable, got %v", err)
	}
	if _, ok := f.controller.Snapshot(); ok {
		t.Fatal("expected no session after media failure")
	}
}

func TestStartSessionSelectsDistinctQuestions(t *testing.T) {
	f := newFixture(t)

	session := f.startSession(t, "Acme", 7)
	if session.Total != QuestionsPerSession {
		t.Fatalf("expected %d questions, got %d", QuestionsPerSession, session.Total)
	}

	seen := make(map[string]struct{}, len(session.Questions))
	for _, text := range session.Questions {
		if _, dup := seen[text]; dup {
			t.Fatalf("duplicate question selected: %q", text)
		}
		seen[text] = struct{}{}
	}
}

func TestSpeakThenListenTwoPhase(t *testing.T) {
	f := newFixture(t)

	session := f.startSession(t, "Acme", 7)
	if session.Phase != PhaseSpeaking {
		t.Fatalf("expected initial snapshot in speaking phase, got %s", session.Phase)
	}

	// The fake speaker completes synchronously, so capture is enabled by now.
	current, ok := f.controller.Snapshot()
	if !ok || current.Phase != PhaseListening {
		t.Fatalf("expected listening phase after speech, got %+v", current)
	}
	if len(f.hub.listening) != 1 || f.hub.listening[0] != 0 {
		t.Fatalf("expected listening_enabled for question 0, got %v", f.hub.listening)
	}
}

func TestSpeechOutputErrorFailsOpen(t *testing.T) {
	f := newFixture(t)
	f.speaker.failWith = errors.New("tts down")

	f.startSession(t, "Acme", 7)

	current, ok := f.controller.Snapshot()
	if !ok || current.Phase != PhaseListening {
		t.Fatalf("expected listening phase despite speech error, got %+v", current)
	}
	if err := f.controller.SubmitAnswer("typed anyway"); err != nil {
		t.Fatalf("SubmitAnswer failed: %v", err)
	}
}

func TestSubmitAnswerOutsideListeningRejected(t *testing.T) {
	f := newFixture(t)

	if err := f.controller.SubmitAnswer("too early"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState with no session, got %v", err)
	}

	f.startSession(t, "Acme", 7)
	if err := f.controller.SubmitAnswer("first"); err != nil {
		t.Fatalf("SubmitAnswer failed: %v", err)
	}

	// Advancing phase: a second submission for the same question must not land.
	if err := f.controller.SubmitAnswer("second"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState in advancing phase, got %v", err)
	}
	if got := len(f.controller.Answers()); got != 1 {
		t.Fatalf("expected 1 answer, got %d", got)
	}
}

func TestFullTypedInterview(t *testing.T) {
	f := newFixture(t)

	f.startSession(t, "Acme", 7)

	for i := 0; i < QuestionsPerSession; i++ {
		if err := f.controller.SubmitAnswer(fmt.Sprintf("answer %d", i+1)); err != nil {
			t.Fatalf("SubmitAnswer %d failed: %v", i+1, err)
		}
		if err := f.controller.Advance(); err != nil {
			t.Fatalf("Advance %d failed: %v", i+1, err)
		}
	}

	result, err := f.controller.Finalize()
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if result.Company != "Acme" {
		t.Fatalf("expected company Acme, got %q", result.Company)
	}
	if result.TotalQuestions != QuestionsPerSession || result.AnsweredQuestions != QuestionsPerSession {
		t.Fatalf("unexpected counts: %+v", result)
	}

	spoken := f.speaker.spoken()
	answers := result.Responses
	for i := 1; i < len(answers); i++ {
		if answers[i].Timestamp.Before(answers[i-1].Timestamp) {
			t.Fatalf("answers out of order at %d", i)
		}
	}
	for i, a := range answers {
		if a.Answer != fmt.Sprintf("answer %d", i+1) {
			t.Fatalf("answer %d out of presentation order: %q", i, a.Answer)
		}
	}
	if len(spoken) == 0 {
		t.Fatal("expected questions to be spoken")
	}
}

func TestAdvanceFromCompletedRejected(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "Acme", 5)

	for i := 0; i < QuestionsPerSession; i++ {
		if err := f.controller.SubmitAnswer("a"); err != nil {
			t.Fatalf("SubmitAnswer failed: %v", err)
		}
		if err := f.controller.Advance(); err != nil {
			t.Fatalf("Advance failed: %v", err)
		}
	}

	if len(f.hub.completed) != 1 {
		t.Fatalf("expected exactly one completion event, got %d", len(f.hub.completed))
	}
	if err := f.controller.Advance(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState advancing from completed, got %v", err)
	}
}

func TestVoiceAnswerSubmitsOnEnded(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "Acme", 7)

	if err := f.controller.StartListening(); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}

	l := f.recognizer.listener()
	l.Interim("I would")
	l.Final("I would start")
	l.Final("by profiling.")
	l.Ended()

	answers := f.controller.Answers()
	if len(answers) != 1 {
		t.Fatalf("expected 1 answer, got %d", len(answers))
	}
	if answers[0].Answer != "I would start by profiling." {
		t.Fatalf("unexpected transcript: %q", answers[0].Answer)
	}
}

func TestTypedBeatsVoice(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "Acme", 7)

	if err := f.controller.StartListening(); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	l := f.recognizer.listener()
	l.Final("half a voice answer")

	if err := f.controller.SubmitAnswer("typed wins"); err != nil {
		t.Fatalf("SubmitAnswer failed: %v", err)
	}
	if f.recognizer.stops == 0 {
		t.Fatal("expected recognizer stopped after typed submission")
	}

	// The losing voice attempt ends late; its transcript must be discarded.
	l.Ended()

	answers := f.controller.Answers()
	if len(answers) != 1 || answers[0].Answer != "typed wins" {
		t.Fatalf("expected only the typed answer, got %+v", answers)
	}
}

func TestStaleRecognitionEventsDiscarded(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "Acme", 7)

	if err := f.controller.StartListening(); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	stale := f.recognizer.listener()

	if err := f.controller.SubmitAnswer("question one answer"); err != nil {
		t.Fatalf("SubmitAnswer failed: %v", err)
	}
	if err := f.controller.Advance(); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	// Events from question 1's recognizer arriving during question 2.
	stale.Final("late result")
	stale.Ended()

	answers := f.controller.Answers()
	if len(answers) != 1 {
		t.Fatalf("stale event appended an answer: %+v", answers)
	}
}

func TestNoSpeechStaysListening(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "Acme", 7)

	if err := f.controller.StartListening(); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	f.recognizer.listener().Failed(KindNoSpeech, nil)

	if len(f.hub.fallbacks) != 0 {
		t.Fatalf("no-speech must not offer fallback, got %v", f.hub.fallbacks)
	}
	if err := f.controller.StartListening(); err != nil {
		t.Fatalf("retry StartListening failed: %v", err)
	}
}

func TestNetworkErrorDegradesToText(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "Acme", 7)

	// Answer question 1 by voice, then hit a network error on question 2.
	if err := f.controller.StartListening(); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	l := f.recognizer.listener()
	l.Final("first answer")
	l.Ended()
	if err := f.controller.Advance(); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	if err := f.controller.StartListening(); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	f.recognizer.listener().Failed(KindNetwork, errors.New("socket closed"))

	if len(f.hub.fallbacks) != 1 || f.hub.fallbacks[0] != KindNetwork {
		t.Fatalf("expected network fallback offer, got %v", f.hub.fallbacks)
	}

	if err := f.controller.RespondFallback(true); err != nil {
		t.Fatalf("RespondFallback failed: %v", err)
	}
	if err := f.controller.StartListening(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected voice disabled after accepting fallback, got %v", err)
	}
	if err := f.controller.SubmitAnswer("fallback answer"); err != nil {
		t.Fatalf("SubmitAnswer failed: %v", err)
	}
	if err := f.controller.Advance(); err != nil {
		t.Fatalf("Advance to question 3 failed: %v", err)
	}

	answers := f.controller.Answers()
	if len(answers) != 2 || answers[1].Answer != "fallback answer" {
		t.Fatalf("unexpected answers: %+v", answers)
	}
	current, _ := f.controller.Snapshot()
	if current.Index != 2 {
		t.Fatalf("expected session at question 3, got index %d", current.Index)
	}
}

func TestDeclinedFallbackKeepsListening(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "Acme", 7)

	if err := f.controller.StartListening(); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	f.recognizer.listener().Failed(KindNetwork, nil)

	if err := f.controller.RespondFallback(false); err != nil {
		t.Fatalf("RespondFallback failed: %v", err)
	}
	if err := f.controller.StartListening(); err != nil {
		t.Fatalf("expected voice retry allowed after declining, got %v", err)
	}
}

func TestFinishEarly(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "Acme", 7)

	if err := f.controller.FinishEarly(); !errors.Is(err, ErrNoAnswersRecorded) {
		t.Fatalf("expected ErrNoAnswersRecorded, got %v", err)
	}

	if err := f.controller.SubmitAnswer("only answer"); err != nil {
		t.Fatalf("SubmitAnswer failed: %v", err)
	}
	if err := f.controller.FinishEarly(); err != nil {
		t.Fatalf("FinishEarly failed: %v", err)
	}

	result, err := f.controller.Finalize()
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if result.AnsweredQuestions != 1 || result.TotalQuestions != QuestionsPerSession {
		t.Fatalf("unexpected partial result: %+v", result)
	}
	if result.AnsweredQuestions >= result.TotalQuestions {
		t.Fatal("partial completion should answer fewer than total")
	}
}

func TestFinalizeIdempotent(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "Acme", 5)

	if err := f.controller.SubmitAnswer("a"); err != nil {
		t.Fatalf("SubmitAnswer failed: %v", err)
	}
	if err := f.controller.FinishEarly(); err != nil {
		t.Fatalf("FinishEarly failed: %v", err)
	}

	first, err := f.controller.Finalize()
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	second, err := f.controller.Finalize()
	if err != nil {
		t.Fatalf("second Finalize failed: %v", err)
	}

	if first.Date != second.Date || first.AnsweredQuestions != second.AnsweredQuestions {
		t.Fatalf("Finalize not idempotent: %+v vs %+v", first, second)
	}
	if f.media.stops != 1 {
		t.Fatalf("expected capture stopped once, got %d", f.media.stops)
	}
	if f.controller.RecordingPath() != "data/media/rec.webm" {
		t.Fatalf("unexpected recording path %q", f.controller.RecordingPath())
	}
}

func TestFinalizeBeforeCompletionRejected(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "Acme", 7)

	if _, err := f.controller.Finalize(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestNewSessionReleasesPrevious(t *testing.T) {
	f := newFixture(t)
	f.startSession(t, "Acme", 7)

	if err := f.controller.StartListening(); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}

	f.startSession(t, "Globex", 6)

	if f.media.released != 1 {
		t.Fatalf("expected previous media handle released, got %d", f.media.released)
	}
	if f.recognizer.stops == 0 {
		t.Fatal("expected previous recognizer stopped")
	}
	current, _ := f.controller.Snapshot()
	if current.Company != "Globex" {
		t.Fatalf("expected new session for Globex, got %q", current.Company)
	}
}

func TestSessionResultJSONRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	original := SessionResult{
		Company:           "Acme",
		Date:              now,
		TotalQuestions:    5,
		AnsweredQuestions: 2,
		Responses: []Answer{
			{Question: "Why Go?", Answer: "Concurrency.", Timestamp: now.Add(-2 * time.Minute)},
			{Question: "Why us?", Answer: "Culture.", Timestamp: now.Add(-time.Minute)},
		},
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded SessionResult
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded.Company != original.Company ||
		decoded.TotalQuestions != original.TotalQuestions ||
		decoded.AnsweredQuestions != original.AnsweredQuestions ||
		!decoded.Date.Equal(original.Date) ||
		len(decoded.Responses) != len(original.Responses) {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, original)
	}
	for i := range original.Responses {
		if decoded.Responses[i].Question != original.Responses[i].Question ||
			decoded.Responses[i].Answer != original.Responses[i].Answer ||
			!decoded.Responses[i].Timestamp.Equal(original.Responses[i].Timestamp) {
			t.Fatalf("response %d mismatch: %+v vs %+v", i, decoded.Responses[i], original.Responses[i])
		}
	}
}
