package server

import (
	"time"

	"github.com/avelis/prepvox/internal/interview"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type SessionStartedEvent struct {
	Event
	Company        string `json:"company"`
	TotalQuestions int    `json:"total_questions"`
}

type QuestionSpeakingEvent struct {
	Event
	Index int    `json:"index"`
	Total int    `json:"total"`
	Text  string `json:"text"`
}

type ListeningEnabledEvent struct {
	Event
	Index int `json:"index"`
}

type InterimTranscriptEvent struct {
	Event
	Index int    `json:"index"`
	Text  string `json:"text"`
}

type AnswerRecordedEvent struct {
	Event
	Index    int    `json:"index"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Recorded string `json:"recorded"`
}

type FallbackOfferedEvent struct {
	Event
	Index int    `json:"index"`
	Kind  string `json:"kind"`
}

type SessionCompletedEvent struct {
	Event
	Result interview.SessionResult `json:"result"`
}

type StatusEvent struct {
	Event
	Message string `json:"message"`
}

type QuestionAudioEvent struct {
	Event
	UtteranceID string `json:"utterance_id"`
	URL         string `json:"url"`
	Text        string `json:"text"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

// SessionStateEvent carries the full session view to a newly connected
// client so a page reload can resume rendering a running interview.
type SessionStateEvent struct {
	Event
	Session interview.Session `json:"session"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
