package interview

import (
	"time"

	"github.com/avelis/prepvox/internal/question"
)

// QuestionsPerSession is how many questions one interview asks. A company is
// only eligible once it has banked at least this many.
const QuestionsPerSession = 5

// Phase is the controller's position in the question/answer cycle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSpeaking  Phase = "speaking"
	PhaseListening Phase = "listening"
	PhaseAdvancing Phase = "advancing"
	PhaseCompleted Phase = "completed"
)

// Answer is one captured response. Answers are appended in presentation
// order and never mutated afterward.
type Answer struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionResult is the exportable outcome of a finished session.
type SessionResult struct {
	Company           string    `json:"company"`
	Date              time.Time `json:"date"`
	TotalQuestions    int       `json:"totalQuestions"`
	AnsweredQuestions int       `json:"answeredQuestions"`
	Responses         []Answer  `json:"responses"`
}

// Session is a read-only view of the active session for API responses.
type Session struct {
	Generation string   `json:"generation"`
	Company    string   `json:"company"`
	Phase      Phase    `json:"phase"`
	Index      int      `json:"index"`
	Total      int      `json:"total"`
	Questions  []string `json:"questions"`
	Answered   int      `json:"answered"`
}

// Speaker converts question text to spoken audio. Speak must not block; done
// is invoked exactly once when the utterance finishes or fails, and a new
// Speak call cancels any in-flight utterance. A nil done is allowed for
// utterances whose completion nobody waits on.
type Speaker interface {
	Speak(text string, done func(err error))
}

// Listener receives recognition events for one listening attempt. The
// controller hands the recognizer a fresh Listener per attempt so stale
// events from a superseded attempt can be discarded.
type Listener interface {
	Interim(text string)
	Final(text string)
	Ended()
	Failed(kind ErrorKind, err error)
}

// Recognizer converts spoken audio to text incrementally.
type Recognizer interface {
	Start(l Listener) error
	Stop()
}

// MediaHandle identifies one acquired capture stream.
type MediaHandle string

// MediaCapture owns the camera/microphone stream and its recording. At most
// one handle is active at a time.
type MediaCapture interface {
	Acquire() (MediaHandle, error)
	StartRecording(h MediaHandle) error
	StopRecording() (string, error)
	Release(h MediaHandle)
}

// EventBroadcaster pushes controller progress to the presentation layer.
type EventBroadcaster interface {
	BroadcastSessionStarted(company string, total int)
	BroadcastQuestionSpeaking(index, total int, text string)
	BroadcastListeningEnabled(index int)
	BroadcastInterimTranscript(index int, text string)
	BroadcastAnswerRecorded(index int, answer Answer)
	BroadcastFallbackOffered(index int, kind ErrorKind)
	BroadcastSessionCompleted(result SessionResult)
	BroadcastStatus(message string)
}

// sampled question order is fixed at session start; presentation never
// reorders it.
type sessionState struct {
	generation    string
	company       string
	questions     []question.Question
	index         int
	answers       []Answer
	phase         Phase
	handle        MediaHandle
	listening     bool
	fallbackOpen  bool
	voiceDisabled bool
	completedAt   time.Time
	finalized     bool
	result        SessionResult
	recordingPath string
}
